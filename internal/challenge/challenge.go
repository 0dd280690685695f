// Package challenge defines the challenge taxonomy, the static fallback
// bank, and the oracle-backed generator.
package challenge

import "time"

// Difficulty orders challenge hardness. Policy maps risk levels onto it.
type Difficulty string

const (
	DifficultySimple  Difficulty = "simple"
	DifficultyEasy    Difficulty = "easy"
	DifficultyMedium  Difficulty = "medium"
	DifficultyHard    Difficulty = "hard"
	DifficultyExtreme Difficulty = "extreme"
)

// Category names the kind of question asked.
type Category string

const (
	CategoryMath        Category = "math"
	CategoryWord        Category = "word"
	CategoryCommonSense Category = "common_sense"
	CategoryCounting    Category = "counting"
	CategoryEmoji       Category = "emoji"
	CategoryPattern     Category = "pattern"
	CategoryLogic       Category = "logic"
	CategorySequence    Category = "sequence"
	CategoryRiddle      Category = "riddle"
	CategoryTrick       Category = "trick"
	CategoryMultiStep   Category = "multi_step"
	CategoryTrap        Category = "trap"
	CategoryBehavioral  Category = "behavioral"
)

// tiers maps each difficulty to its category set. Higher tiers extend
// lower ones with progressively more abstract categories.
var tiers = map[Difficulty][]Category{
	DifficultySimple: {CategoryMath, CategoryWord, CategoryCommonSense, CategoryCounting, CategoryEmoji},
	DifficultyEasy:   {CategoryMath, CategoryWord, CategoryCommonSense, CategoryCounting, CategoryEmoji},
	DifficultyMedium: {
		CategoryMath, CategoryWord, CategoryCommonSense, CategoryCounting, CategoryEmoji,
		CategoryPattern, CategoryLogic, CategorySequence,
	},
	DifficultyHard: {
		CategoryMath, CategoryWord, CategoryCommonSense, CategoryCounting, CategoryEmoji,
		CategoryPattern, CategoryLogic, CategorySequence,
		CategoryRiddle, CategoryTrick, CategoryMultiStep,
	},
	DifficultyExtreme: {
		CategoryMath, CategoryWord, CategoryCommonSense, CategoryCounting, CategoryEmoji,
		CategoryPattern, CategoryLogic, CategorySequence,
		CategoryRiddle, CategoryTrick, CategoryMultiStep,
		CategoryTrap, CategoryBehavioral,
	},
}

// Categories returns the category set for a difficulty. Unknown
// difficulties get the simple tier.
func Categories(d Difficulty) []Category {
	if cats, ok := tiers[d]; ok {
		return cats
	}
	return tiers[DifficultySimple]
}

// Challenge is one question put to a joining member. Options contain the
// answer exactly once; their order is fixed at creation and never
// reshuffled.
type Challenge struct {
	ID          string        `json:"id"`
	Question    string        `json:"question"`
	Answer      string        `json:"answer"`
	Options     []string      `json:"options"`
	Hint        string        `json:"hint,omitempty"`
	Explanation string        `json:"explanation,omitempty"`
	Category    Category      `json:"category"`
	Difficulty  Difficulty    `json:"difficulty"`
	TimeLimit   time.Duration `json:"-"`
}
