// Package objectives provides named test functions for the minimizers and
// the least-squares problems used to exercise SGD-Adam.
package objectives

import (
	"fmt"
	"math"
	"sort"

	"github.com/copyleftdev/minimize/internal/optimization"
	"github.com/copyleftdev/minimize/internal/optimization/numdiff"
)

// Sphere is f(x) = Σ xᵢ². Its minimum is 0 at the origin.
func Sphere(x []float64) (float64, []float64, error) {
	f := 0.0
	g := make([]float64, len(x))
	for i, v := range x {
		f += v * v
		g[i] = 2 * v
	}
	return f, g, nil
}

// Rosenbrock is the extended Rosenbrock function
// Σ 100(xᵢ₊₁ − xᵢ²)² + (1 − xᵢ)² with minimum 0 at (1, …, 1).
// It needs at least two coordinates.
func Rosenbrock(x []float64) (float64, []float64, error) {
	if len(x) < 2 {
		return 0, nil, fmt.Errorf("rosenbrock needs at least 2 coordinates, got %d", len(x))
	}
	f := 0.0
	g := make([]float64, len(x))
	for i := 0; i < len(x)-1; i++ {
		a := 1 - x[i]
		b := x[i+1] - x[i]*x[i]
		f += a*a + 100*b*b
		g[i] += -2*a - 400*x[i]*b
		g[i+1] += 200 * b
	}
	return f, g, nil
}

// Ackley is the Ackley function with a = 20, b = 0.2, c = 2π. It has many
// local minima and a global minimum of 0 at the origin. It is value-only;
// AckleyObjective pairs it with a numerical gradient.
func Ackley(x []float64) (float64, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("ackley needs at least 1 coordinate")
	}
	n := float64(len(x))
	sumSq, sumCos := 0.0, 0.0
	for _, v := range x {
		sumSq += v * v
		sumCos += math.Cos(2 * math.Pi * v)
	}
	return -20*math.Exp(-0.2*math.Sqrt(sumSq/n)) - math.Exp(sumCos/n) + 20 + math.E, nil
}

// AckleyObjective is Ackley with a central-difference gradient.
func AckleyObjective() optimization.Objective {
	return numdiff.MustObjective(Ackley, numdiff.DefaultStep)
}

var registry = map[string]func() optimization.Objective{
	"sphere":     func() optimization.Objective { return optimization.ObjectiveFunc(Sphere) },
	"rosenbrock": func() optimization.Objective { return optimization.ObjectiveFunc(Rosenbrock) },
	"ackley":     AckleyObjective,
}

// Lookup returns the named analytic objective.
func Lookup(name string) (optimization.Objective, bool) {
	mk, ok := registry[name]
	if !ok {
		return nil, false
	}
	return mk(), true
}

// Names lists the objectives known to Lookup, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
