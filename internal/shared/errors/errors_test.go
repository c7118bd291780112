package errors

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *DepError
		want string
	}{
		{
			name: "timeout",
			err:  NewTimeout("scaleway", "scw instance server list", 120*time.Second),
			want: "scaleway: scw instance server list timed out after 120 seconds",
		},
		{
			name: "timeout rounds sub-second budgets up",
			err:  NewTimeout("", "op", 10*time.Millisecond),
			want: "op timed out after 1 seconds",
		},
		{
			name: "external call",
			err:  NewExternalCallFailure("aws", "ec2:DescribeInstances", stderrors.New("AccessDenied")),
			want: "aws: ec2:DescribeInstances failed: AccessDenied",
		},
		{
			name: "credentials missing",
			err:  NewCredentialsMissing("azure", "tenant_id", "client_secret"),
			want: "azure: credentials missing: tenant_id, client_secret",
		},
		{
			name: "parse",
			err:  NewParseFailure("scaleway", "scw k8s cluster list", stderrors.New("unexpected EOF")),
			want: "scaleway: could not parse scw k8s cluster list output: unexpected EOF",
		},
		{
			name: "resource",
			err:  NewError(ErrorTypeExternalCall, "lookup failed").WithResource("sg-1").Build(),
			want: "lookup failed (resource: sg-1)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestDepErrorIsAndUnwrap(t *testing.T) {
	root := stderrors.New("root")
	err := fmt.Errorf("wrapped: %w", NewExternalCallFailure("gcp", "SearchAllResources", root))

	assert.True(t, Is(err, ErrExternalCall))
	assert.False(t, Is(err, ErrTimeout))
	assert.True(t, Is(err, root))
	assert.Equal(t, ErrorTypeExternalCall, TypeOf(err))
	assert.Equal(t, ErrorTypeExternalCall, TypeOf(stderrors.New("plain")))
}

func TestGuard(t *testing.T) {
	err := Guard("engine iam", func() error {
		panic("nil map")
	})
	require.Error(t, err)
	assert.True(t, Is(err, ErrInternal))
	assert.Equal(t, "engine iam panicked: nil map", err.Error())

	assert.NoError(t, Guard("ok", func() error { return nil }))
	sentinel := stderrors.New("plain failure")
	assert.Equal(t, sentinel, Guard("fails", func() error { return sentinel }))
}

func TestCollector(t *testing.T) {
	c := NewCollector("[account 123] ")
	c.Add(nil)
	c.Add(NewError(ErrorTypeUnmappedType, "ignored").Build())
	c.Add(NewError(ErrorTypeUnresolvedReference, "ignored").Build())
	c.Add(NewTimeout("aws", "lambda:ListFunctions", 30*time.Second))
	c.Addf("aws: %d buckets skipped", 2)
	c.AddString("")

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{
		"[account 123] aws: lambda:ListFunctions timed out after 30 seconds",
		"[account 123] aws: 2 buckets skipped",
	}, c.Errors())

	empty := NewCollector("")
	assert.NotNil(t, empty.Errors())
	assert.Empty(t, empty.Errors())
}

func TestCollectorConcurrent(t *testing.T) {
	c := NewCollector("")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Addf("error %02d", i)
		}(i)
	}
	wg.Wait()

	sorted := c.Sorted()
	require.Len(t, sorted, 50)
	assert.Equal(t, "error 00", sorted[0])
	assert.Equal(t, "error 49", sorted[49])
}
