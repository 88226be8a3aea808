package cost

import (
	"fmt"

	"github.com/fcinq/genchat/pkg/models"
)

const (
	CurrencyUSD = "USD"
)

// Info is a pre-submit estimate. The workflow's reported cost is authoritative.
type Info struct {
	PerUnit  float64
	Total    float64
	Currency string
}

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Estimate prices count outputs of the given model. Video paths produce a
// single clip regardless of count.
func (c *Calculator) Estimate(path models.GenerationPath, model models.ModelDescriptor, count int) *Info {
	if path.IsVideo() || count < 1 {
		count = 1
	}
	return &Info{
		PerUnit:  model.Price,
		Total:    model.Price * float64(count),
		Currency: CurrencyUSD,
	}
}

// EstimateFor is Estimate with the count the workflow is asked for.
func (c *Calculator) EstimateFor(path models.GenerationPath, model models.ModelDescriptor) *Info {
	if path == models.PathT2I {
		return c.Estimate(path, model, models.NumImagesImage)
	}
	return c.Estimate(path, model, 1)
}

// Format renders an amount as shown on the cost badge.
func Format(v float64) string {
	return fmt.Sprintf("$%.3f", v)
}
