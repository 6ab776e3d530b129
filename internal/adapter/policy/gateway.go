package policy

import (
	"context"

	"github.com/guillermoBallester/querytuner/internal/core/domain"
	"github.com/guillermoBallester/querytuner/internal/core/port"
)

// Gateway decorates a SandboxGateway with policy-based context enrichment.
// Every method except DescribeTable is passed through unchanged.
type Gateway struct {
	port.SandboxGateway
	policy *Policy
}

var _ port.SandboxGateway = (*Gateway)(nil)

// NewGateway wraps inner with data-dictionary enrichment.
func NewGateway(inner port.SandboxGateway, pol *Policy) *Gateway {
	return &Gateway{SandboxGateway: inner, policy: pol}
}

func (g *Gateway) DescribeTable(ctx context.Context, schema, table string) (*domain.TableInfo, error) {
	info, err := g.SandboxGateway.DescribeTable(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	MergeTableInfo(info, g.policy.Context)
	return info, nil
}
