package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
)

const awsManagedPolicyPrefix = "arn:aws:iam::aws:policy/"

// iamPolicies collects the inline and customer-managed statements of the
// roles used by discovered Lambda functions and ECS services.
func (r *run) iamPolicies(ctx context.Context, nodes []models.ServiceNode) []models.IAMPolicy {
	var out []models.IAMPolicy
	cache := make(map[string][]models.PolicyStatement)

	for _, n := range ofSubType(nodes, "lambda", "ecs") {
		c := r.clientsFor(ctx, n)
		if c == nil || c.IAM == nil {
			continue
		}
		roleARN := n.MetaString(models.MetaRoleARN)
		if roleARN == "" && n.SubType == "ecs" {
			roleARN = r.taskRole(ctx, c, n)
		}
		if roleARN == "" {
			continue
		}

		statements, ok := cache[roleARN]
		if !ok {
			statements = r.roleStatements(ctx, c, roleARN)
			cache[roleARN] = statements
		}
		if len(statements) == 0 {
			continue
		}
		out = append(out, models.IAMPolicy{
			PrincipalName: n.Name,
			PrincipalARN:  roleARN,
			Statements:    statements,
		})
	}
	return out
}

func (r *run) taskRole(ctx context.Context, c *awsprov.Clients, n models.ServiceNode) string {
	td := n.MetaString(models.MetaTaskDefinition)
	if td == "" || c.ECS == nil {
		return ""
	}
	const op = "ecs:DescribeTaskDefinition"
	if err := r.wait(ctx); err != nil {
		r.fail(op, td, err)
		return ""
	}
	resp, err := c.ECS.DescribeTaskDefinition(ctx, &ecs.DescribeTaskDefinitionInput{TaskDefinition: aws.String(td)})
	if err != nil {
		r.fail(op, td, err)
		return ""
	}
	if resp.TaskDefinition == nil {
		return ""
	}
	return aws.ToString(resp.TaskDefinition.TaskRoleArn)
}

func (r *run) roleStatements(ctx context.Context, c *awsprov.Clients, roleARN string) []models.PolicyStatement {
	role := roleARN[strings.LastIndex(roleARN, "/")+1:]
	var out []models.PolicyStatement

	const listInline = "iam:ListRolePolicies"
	guard := providers.NewPageGuard(models.ProviderAWS, listInline, r.opts.MaxPages)
	p := iam.NewListRolePoliciesPaginator(c.IAM, &iam.ListRolePoliciesInput{RoleName: aws.String(role)})
	for guard.Next(p.HasMorePages()) {
		if err := r.wait(ctx); err != nil {
			r.fail(listInline, role, err)
			break
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			r.fail(listInline, role, err)
			break
		}
		for _, name := range page.PolicyNames {
			if err := r.wait(ctx); err != nil {
				r.fail("iam:GetRolePolicy", role+"/"+name, err)
				continue
			}
			doc, err := c.IAM.GetRolePolicy(ctx, &iam.GetRolePolicyInput{RoleName: aws.String(role), PolicyName: aws.String(name)})
			if err != nil {
				r.fail("iam:GetRolePolicy", role+"/"+name, err)
				continue
			}
			out = append(out, r.statements("iam:GetRolePolicy", role+"/"+name, aws.ToString(doc.PolicyDocument))...)
		}
	}
	r.errs.Add(guard.Err())

	const listAttached = "iam:ListAttachedRolePolicies"
	guard = providers.NewPageGuard(models.ProviderAWS, listAttached, r.opts.MaxPages)
	ap := iam.NewListAttachedRolePoliciesPaginator(c.IAM, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(role)})
	for guard.Next(ap.HasMorePages()) {
		if err := r.wait(ctx); err != nil {
			r.fail(listAttached, role, err)
			break
		}
		page, err := ap.NextPage(ctx)
		if err != nil {
			r.fail(listAttached, role, err)
			break
		}
		for _, attached := range page.AttachedPolicies {
			arn := aws.ToString(attached.PolicyArn)
			// AWS managed policies grant broad service access, not resource edges
			if arn == "" || strings.HasPrefix(arn, awsManagedPolicyPrefix) {
				continue
			}
			out = append(out, r.managedStatements(ctx, c, arn)...)
		}
	}
	r.errs.Add(guard.Err())
	return out
}

func (r *run) managedStatements(ctx context.Context, c *awsprov.Clients, arn string) []models.PolicyStatement {
	if err := r.wait(ctx); err != nil {
		r.fail("iam:GetPolicy", arn, err)
		return nil
	}
	policy, err := c.IAM.GetPolicy(ctx, &iam.GetPolicyInput{PolicyArn: aws.String(arn)})
	if err != nil {
		r.fail("iam:GetPolicy", arn, err)
		return nil
	}
	if policy.Policy == nil || policy.Policy.DefaultVersionId == nil {
		return nil
	}
	if err := r.wait(ctx); err != nil {
		r.fail("iam:GetPolicyVersion", arn, err)
		return nil
	}
	version, err := c.IAM.GetPolicyVersion(ctx, &iam.GetPolicyVersionInput{
		PolicyArn: aws.String(arn),
		VersionId: policy.Policy.DefaultVersionId,
	})
	if err != nil {
		r.fail("iam:GetPolicyVersion", arn, err)
		return nil
	}
	if version.PolicyVersion == nil {
		return nil
	}
	return r.statements("iam:GetPolicyVersion", arn, aws.ToString(version.PolicyVersion.Document))
}

func (r *run) statements(op, resource, document string) []models.PolicyStatement {
	statements, err := ParsePolicyDocument(document)
	if err != nil {
		r.errs.Add(parseError(op, resource, err))
	}
	return statements
}

// ParsePolicyDocument decodes a URL-encoded IAM policy document. Statement
// may be a single object or a list.
func ParsePolicyDocument(document string) ([]models.PolicyStatement, error) {
	if document == "" {
		return nil, nil
	}
	if decoded, err := url.QueryUnescape(document); err == nil {
		document = decoded
	}
	var doc struct {
		Statement json.RawMessage `json:"Statement"`
	}
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, err
	}
	if len(doc.Statement) == 0 {
		return nil, nil
	}
	var list []models.PolicyStatement
	if err := json.Unmarshal(doc.Statement, &list); err == nil {
		return list, nil
	}
	var single models.PolicyStatement
	if err := json.Unmarshal(doc.Statement, &single); err != nil {
		return nil, fmt.Errorf("statement: %w", err)
	}
	return []models.PolicyStatement{single}, nil
}
