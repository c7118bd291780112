package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/catherinevee/depmgr/internal/models"
	"github.com/catherinevee/depmgr/internal/providers"
	awsprov "github.com/catherinevee/depmgr/internal/providers/aws"
	deperrors "github.com/catherinevee/depmgr/internal/shared/errors"
)

func parseError(op, resource string, err error) error {
	return deperrors.NewError(deperrors.ErrorTypeParse, "could not parse "+op+" output").
		WithProvider(models.ProviderAWS).
		WithOperation(op).
		WithResource(resource).
		WithWrapped(err).
		Build()
}

// arnService returns the service segment of an ARN
func arnService(arn string) string {
	parts := strings.SplitN(arn, ":", 4)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// functionName extracts the function name from a possibly qualified Lambda ARN
func functionName(arn string) string {
	_, rest, ok := strings.Cut(arn, ":function:")
	if !ok {
		return arn
	}
	name, _, _ := strings.Cut(rest, ":")
	return name
}

// eventSources collects S3 notification triggers of discovered buckets and
// the event source mappings of discovered functions.
func (r *run) eventSources(ctx context.Context, nodes []models.ServiceNode) []models.EventSource {
	var out []models.EventSource

	for _, bucket := range ofSubType(nodes, "s3") {
		c := r.clientsFor(ctx, bucket)
		if c == nil || c.S3 == nil {
			continue
		}
		const op = "s3:GetBucketNotificationConfiguration"
		if err := r.wait(ctx); err != nil {
			r.fail(op, bucket.Name, err)
			continue
		}
		resp, err := c.S3.GetBucketNotificationConfiguration(ctx, &s3.GetBucketNotificationConfigurationInput{
			Bucket: aws.String(bucket.Name),
		})
		if err != nil {
			r.fail(op, bucket.Name, err)
			continue
		}
		for _, cfg := range resp.LambdaFunctionConfigurations {
			arn := aws.ToString(cfg.LambdaFunctionArn)
			if arn == "" {
				continue
			}
			src := models.EventSource{
				FunctionName: functionName(arn),
				FunctionARN:  arn,
				SourceARN:    bucket.CloudResourceID,
				SourceType:   "s3",
			}
			for _, ev := range cfg.Events {
				src.Events = append(src.Events, string(ev))
			}
			out = append(out, src)
		}
	}

	for _, fn := range ofSubType(nodes, "lambda") {
		c := r.clientsFor(ctx, fn)
		if c == nil || c.Lambda == nil {
			continue
		}
		out = append(out, r.mappings(ctx, c, fn)...)
	}
	return out
}

func (r *run) mappings(ctx context.Context, c *awsprov.Clients, fn models.ServiceNode) []models.EventSource {
	const op = "lambda:ListEventSourceMappings"
	var out []models.EventSource
	guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
	p := lambda.NewListEventSourceMappingsPaginator(c.Lambda, &lambda.ListEventSourceMappingsInput{
		FunctionName: aws.String(fn.CloudResourceID),
	})
	for guard.Next(p.HasMorePages()) {
		if err := r.wait(ctx); err != nil {
			r.fail(op, fn.Name, err)
			break
		}
		page, err := p.NextPage(ctx)
		if err != nil {
			r.fail(op, fn.Name, err)
			break
		}
		for _, m := range page.EventSourceMappings {
			source := aws.ToString(m.EventSourceArn)
			if source == "" {
				continue
			}
			out = append(out, models.EventSource{
				FunctionName: fn.Name,
				FunctionARN:  fn.CloudResourceID,
				SourceARN:    source,
				SourceType:   arnService(source),
			})
		}
	}
	r.errs.Add(guard.Err())
	return out
}

// subscriptions lists the subscriptions of discovered SNS topics
func (r *run) subscriptions(ctx context.Context, nodes []models.ServiceNode) []models.SNSSubscription {
	var out []models.SNSSubscription
	for _, topic := range ofSubType(nodes, "sns") {
		c := r.clientsFor(ctx, topic)
		if c == nil || c.SNS == nil {
			continue
		}
		const op = "sns:ListSubscriptionsByTopic"
		guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
		p := sns.NewListSubscriptionsByTopicPaginator(c.SNS, &sns.ListSubscriptionsByTopicInput{
			TopicArn: aws.String(topic.CloudResourceID),
		})
		for guard.Next(p.HasMorePages()) {
			if err := r.wait(ctx); err != nil {
				r.fail(op, topic.Name, err)
				break
			}
			page, err := p.NextPage(ctx)
			if err != nil {
				r.fail(op, topic.Name, err)
				break
			}
			for _, s := range page.Subscriptions {
				out = append(out, models.SNSSubscription{
					TopicARN:        topic.CloudResourceID,
					SubscriptionARN: aws.ToString(s.SubscriptionArn),
					Protocol:        aws.ToString(s.Protocol),
					Endpoint:        aws.ToString(s.Endpoint),
				})
			}
		}
		r.errs.Add(guard.Err())
	}
	return out
}

// eventBridgeRules lists the rules and targets of discovered event buses
func (r *run) eventBridgeRules(ctx context.Context, nodes []models.ServiceNode) []models.EventBridgeRule {
	var out []models.EventBridgeRule
	for _, bus := range ofSubType(nodes, "eventbridge") {
		c := r.clientsFor(ctx, bus)
		if c == nil || c.EventBridge == nil {
			continue
		}
		const op = "events:ListRules"
		guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
		in := &eventbridge.ListRulesInput{EventBusName: aws.String(bus.Name)}
		for more := true; guard.Next(more); {
			if err := r.wait(ctx); err != nil {
				r.fail(op, bus.Name, err)
				break
			}
			page, err := c.EventBridge.ListRules(ctx, in)
			if err != nil {
				r.fail(op, bus.Name, err)
				break
			}
			for _, rule := range page.Rules {
				name := aws.ToString(rule.Name)
				if name == "" {
					continue
				}
				out = append(out, models.EventBridgeRule{
					Name:         name,
					ARN:          aws.ToString(rule.Arn),
					EventBusName: bus.Name,
					EventBusARN:  bus.CloudResourceID,
					TargetARNs:   r.ruleTargets(ctx, c, bus.Name, name),
				})
			}
			in.NextToken = page.NextToken
			more = page.NextToken != nil
		}
		r.errs.Add(guard.Err())
	}
	return out
}

func (r *run) ruleTargets(ctx context.Context, c *awsprov.Clients, bus, rule string) []string {
	const op = "events:ListTargetsByRule"
	var out []string
	guard := providers.NewPageGuard(models.ProviderAWS, op, r.opts.MaxPages)
	in := &eventbridge.ListTargetsByRuleInput{Rule: aws.String(rule), EventBusName: aws.String(bus)}
	for more := true; guard.Next(more); {
		if err := r.wait(ctx); err != nil {
			r.fail(op, rule, err)
			break
		}
		page, err := c.EventBridge.ListTargetsByRule(ctx, in)
		if err != nil {
			r.fail(op, rule, err)
			break
		}
		for _, t := range page.Targets {
			if arn := aws.ToString(t.Arn); arn != "" {
				out = append(out, arn)
			}
		}
		in.NextToken = page.NextToken
		more = page.NextToken != nil
	}
	r.errs.Add(guard.Err())
	return out
}
