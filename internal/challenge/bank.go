package challenge

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the slice of randomness the bank and generator need. Injected
// so tests can fix a seed.
type Rand interface {
	IntN(n int) int
	Shuffle(n int, swap func(i, j int))
}

const (
	bankExplanation = "Verification question answered."
	bankTimeLimit   = 60 * time.Second
)

// bankEntry is the authored form of a fallback challenge. Options are
// written answer-first; Draw shuffles a copy.
type bankEntry struct {
	question string
	answer   string
	options  []string
	hint     string
}

var pools = map[Category][]bankEntry{
	CategoryMath: {
		{"What is 7 + 5?", "12", []string{"12", "10", "13", "11"}, "Add the two numbers."},
		{"What is 9 - 4?", "5", []string{"5", "4", "6", "13"}, "Subtract the second from the first."},
		{"What is 3 × 4?", "12", []string{"12", "7", "9", "16"}, "Multiply."},
		{"What is half of 18?", "9", []string{"9", "8", "6", "36"}, "Divide by two."},
	},
	CategoryWord: {
		{"Which word is a fruit: chair, apple, cloud, shoe?", "apple", []string{"apple", "chair", "cloud", "shoe"}, "You can eat it."},
		{"What is the opposite of 'hot'?", "cold", []string{"cold", "warm", "wet", "big"}, "Think temperature."},
		{"How many letters are in the word 'cat'?", "3", []string{"3", "2", "4", "5"}, "Count them."},
	},
	CategoryCommonSense: {
		{"What color is the sky on a clear day?", "blue", []string{"blue", "green", "red", "purple"}, "Look up."},
		{"How many legs does a dog have?", "4", []string{"4", "2", "6", "8"}, "Think of a pet."},
		{"Which is bigger: an elephant or a mouse?", "elephant", []string{"elephant", "mouse", "same size", "neither"}, "One fits in your hand."},
	},
	CategoryCounting: {
		{"How many days are in a week?", "7", []string{"7", "5", "6", "10"}, "Monday through Sunday."},
		{"Count the vowels in 'banana'.", "3", []string{"3", "2", "4", "6"}, "a, e, i, o, u."},
		{"How many sides does a triangle have?", "3", []string{"3", "4", "5", "6"}, "Tri means three."},
	},
	CategoryEmoji: {
		{"Which emoji shows a smile: 😀 😢 😡 😴?", "😀", []string{"😀", "😢", "😡", "😴"}, "Happy face."},
		{"What animal is this: 🐶?", "dog", []string{"dog", "cat", "fox", "wolf"}, "Man's best friend."},
		{"What does 🍕 represent?", "pizza", []string{"pizza", "pie", "bread", "cake"}, "Italian food."},
	},
	CategoryPattern: {
		{"What comes next: 2, 4, 6, 8, ...?", "10", []string{"10", "9", "12", "16"}, "Even numbers."},
		{"Complete the pattern: A, C, E, G, ...?", "I", []string{"I", "H", "J", "K"}, "Skip one letter each time."},
	},
	CategoryLogic: {
		{"All cats have tails. Whiskers is a cat. Does Whiskers have a tail?", "yes", []string{"yes", "no", "maybe", "unknown"}, "Follow the premise."},
		{"If today is Monday, what day is tomorrow?", "Tuesday", []string{"Tuesday", "Sunday", "Wednesday", "Monday"}, "The next day."},
	},
	CategorySequence: {
		{"What comes next: 1, 1, 2, 3, 5, ...?", "8", []string{"8", "7", "6", "10"}, "Add the previous two."},
		{"Continue: 10, 20, 30, ...?", "40", []string{"40", "35", "50", "45"}, "Count by tens."},
	},
	CategoryRiddle: {
		{"What has keys but can't open locks?", "piano", []string{"piano", "map", "clock", "book"}, "It makes music."},
		{"What gets wetter the more it dries?", "towel", []string{"towel", "sponge", "rain", "soap"}, "You use it after a shower."},
	},
	CategoryTrick: {
		{"How many months have 28 days?", "12", []string{"12", "1", "2", "11"}, "Every month has at least 28."},
		{"A farmer has 5 sheep. All but 2 run away. How many are left?", "2", []string{"2", "3", "5", "0"}, "Read carefully."},
	},
}

// defaultCategory backs any category without an authored pool.
const defaultCategory = CategoryMath

// Bank serves hand-authored fallback challenges. Draw never fails; it is
// the availability floor when the oracle is down.
type Bank struct {
	mu  sync.Mutex
	rng Rand
}

// NewBank builds a bank with its own random source. Pass a fixed-seed
// source for deterministic tests.
func NewBank(rng Rand) *Bank {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Bank{rng: rng}
}

// Draw picks a challenge uniformly from the category's pool, falling back
// to the default category when the requested one has no pool.
func (b *Bank) Draw(category Category) Challenge {
	pool, ok := pools[category]
	if !ok || len(pool) == 0 {
		category = defaultCategory
		pool = pools[category]
	}

	b.mu.Lock()
	entry := pool[b.rng.IntN(len(pool))]
	options := make([]string, len(entry.options))
	copy(options, entry.options)
	b.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	b.mu.Unlock()

	return Challenge{
		Question:    entry.question,
		Answer:      entry.answer,
		Options:     options,
		Hint:        entry.hint,
		Explanation: bankExplanation,
		Category:    category,
		TimeLimit:   bankTimeLimit,
	}
}
