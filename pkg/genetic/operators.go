// Evolutionary operators over portfolio weightings
package genetic

import (
	"math/rand"
)

const (
	// MutationFactor amplifies a mutated gene. Mutation never shrinks a weight;
	// renormalization moves the effect onto the untouched genes.
	MutationFactor = 1.1

	// DefaultInitLow and DefaultInitHigh bound the raw initial gene draws (low, high]
	DefaultInitLow  = 0.0
	DefaultInitHigh = 100.0

	// genes drawn below this threshold come from the first parent
	crossoverThreshold = 0.5
)

// ============================================================================
// INITIALIZATION
// ============================================================================

// InitPopulation generates size random weightings of numWeights genes each
func InitPopulation(rng *rand.Rand, size, numWeights int) Population {
	return InitPopulationRange(rng, size, numWeights, DefaultInitLow, DefaultInitHigh)
}

// InitPopulationRange generates size random weightings whose raw genes are
// drawn uniformly from (low, high] before normalization. low must be >= 0.
func InitPopulationRange(rng *rand.Rand, size, numWeights int, low, high float64) Population {
	population := make(Population, size)

	for i := range population {
		genes := make(Weighting, numWeights)
		for j := range genes {
			// Float64 is in [0,1), so the draw never reaches low
			genes[j] = high - rng.Float64()*(high-low)
		}
		population[i] = normalize(genes)
	}

	return population
}

// ============================================================================
// SELECTION
// ============================================================================

// Selection returns the first matingPoolSize members of a ranked population.
// A pool larger than the population yields the whole population.
func Selection(ranked Population, matingPoolSize int) Population {
	n := min(max(matingPoolSize, 0), len(ranked))
	return ranked[:n:n]
}

// ============================================================================
// CROSSOVER
// ============================================================================

// Crossover breeds outputSize children from a non-empty mating pool. Both
// parents of a child are drawn with replacement, so a parent may mate with itself.
func Crossover(rng *rand.Rand, matingPool Population, outputSize, numWeights int) Population {
	population := make(Population, outputSize)

	for i := range population {
		male := matingPool[rng.Intn(len(matingPool))]
		female := matingPool[rng.Intn(len(matingPool))]

		population[i] = normalize(uniformCross(rng, male, female, numWeights))
	}

	return population
}

// uniformCross picks every gene independently from one of the two parents
func uniformCross(rng *rand.Rand, male, female Weighting, numWeights int) Weighting {
	child := make(Weighting, numWeights)

	for j := range child {
		if rng.Float64() < crossoverThreshold {
			child[j] = male[j]
		} else {
			child[j] = female[j]
		}
	}

	return child
}

// ============================================================================
// MUTATION
// ============================================================================

// Mutation amplifies each gene by MutationFactor with probability mutationRate
// and renormalizes every individual. The input population is left untouched.
func Mutation(rng *rand.Rand, population Population, mutationRate float64, numWeights int) Population {
	mutated := make(Population, len(population))

	for i, weighting := range population {
		child := make(Weighting, numWeights)
		for j := range child {
			weight := weighting[j]
			if rng.Float64() < mutationRate {
				weight *= MutationFactor
			}
			child[j] = weight
		}
		mutated[i] = normalize(child)
	}

	return mutated
}
