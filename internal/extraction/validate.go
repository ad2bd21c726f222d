package extraction

import (
	"math"

	"github.com/jonesrussell/north-cloud/listings/internal/domain"
)

// areaTolerancePercent is the relative variance under which two areas agree.
const areaTolerancePercent = 5.0

// crossValidate compares each chosen numeric feature with its text-mined copy. Counts must
// match exactly; areas must agree within areaTolerancePercent of the chosen value.
func crossValidate(chosen, mined map[string]float64) ([]string, []domain.FieldConflict) {
	var confirmed []string
	var conflicts []domain.FieldConflict
	for _, field := range validatedFields {
		c, ok := chosen[field]
		if !ok {
			continue
		}
		t, ok := mined[field]
		if !ok {
			continue
		}

		if !areaFields[field] {
			if c == t {
				confirmed = append(confirmed, field)
			} else {
				conflicts = append(conflicts, domain.FieldConflict{
					Field:            field,
					StructuredValue:  c,
					DescriptionValue: t,
				})
			}
			continue
		}

		variance := relativeVariance(c, t)
		if variance <= areaTolerancePercent {
			confirmed = append(confirmed, field)
			continue
		}
		conflicts = append(conflicts, domain.FieldConflict{
			Field:            field,
			StructuredValue:  c,
			DescriptionValue: t,
			VariancePercent:  &variance,
		})
	}
	return confirmed, conflicts
}

// relativeVariance is |a-b| as a percentage of a, rounded to two decimals.
func relativeVariance(a, b float64) float64 {
	if a == b {
		return 0
	}
	base := math.Abs(a)
	if base == 0 {
		base = math.Abs(b)
	}
	return math.Round(math.Abs(a-b)/base*10000) / 100
}
