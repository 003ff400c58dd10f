// Package simulator holds small reference models used by the command line
// tools and tests.  Real simulators are supplied by callers through
// common.Simulator.
package simulator

import (
	"context"
	"strings"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/turtacn/abcflow/internal/abc/common"
	"github.com/turtacn/abcflow/pkg/errors"
)

// Identity returns the parameter vector as a one-row trajectory.
type Identity struct{}

// Simulate implements common.Simulator.
func (Identity) Simulate(ctx context.Context, params []float64, _ uint64) (common.Trajectory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return common.Trajectory{append([]float64(nil), params...)}, nil
}

// Gaussian reads params as (mean, std) pairs and emits one row of Points
// normal draws per pair.  The output depends only on params and seed.
type Gaussian struct {
	Points int
}

// Simulate implements common.Simulator.
func (g Gaussian) Simulate(ctx context.Context, params []float64, seed uint64) (common.Trajectory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(params) == 0 || len(params)%2 != 0 {
		return nil, errors.Newf(errors.ErrCodeBadRequest,
			"gaussian simulator expects (mean, std) pairs, got %d parameters", len(params))
	}
	points := g.Points
	if points <= 0 {
		points = 1
	}
	src := rand.NewSource(seed)
	out := make(common.Trajectory, len(params)/2)
	for i := range out {
		mu, sigma := params[2*i], params[2*i+1]
		if !(sigma > 0) {
			return nil, errors.Newf(errors.ErrCodeBadRequest, "standard deviation must be positive, got %v", sigma)
		}
		dist := distuv.Normal{Mu: mu, Sigma: sigma, Src: src}
		row := make([]float64, points)
		for j := range row {
			row[j] = dist.Rand()
		}
		out[i] = row
	}
	return out, nil
}

// ByName resolves a simulator from configuration.
func ByName(name string, points int) (common.Simulator, error) {
	switch strings.ToLower(name) {
	case "", "identity":
		return Identity{}, nil
	case "gaussian":
		return Gaussian{Points: points}, nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownCollaborator, "unknown simulator %q", name)
	}
}

//Personal.AI order the ending
