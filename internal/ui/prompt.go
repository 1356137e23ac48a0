package ui

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/manifoldco/promptui"
)

// ErrCancelled is returned when the user aborts a prompt
var ErrCancelled = errors.New("operation cancelled by user")

// ConfirmPrompt asks a yes/no confirmation question
func ConfirmPrompt(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}

	result, err := prompt.Run()
	if err != nil {
		// promptui reports "no" as ErrAbort for confirm prompts
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrCancelled
		}
		return false, err
	}

	return strings.EqualFold(result, "y"), nil
}

// ConfirmDangerousAction asks for confirmation with a warning
func ConfirmDangerousAction(action string, target string) (bool, error) {
	PrintWarning("You are about to %s: %s", action, target)
	fmt.Println()

	return ConfirmPrompt(fmt.Sprintf("Are you sure you want to %s", action))
}

// SelectPrompt presents a list of options, filterable by fuzzy search
func SelectPrompt(label string, items []string) (int, string, error) {
	prompt := promptui.Select{
		Label: label,
		Items: items,
		Size:  min(10, len(items)),
		Searcher: func(input string, index int) bool {
			if index < 0 || index >= len(items) {
				return false
			}
			input = strings.TrimSpace(input)
			return input == "" || fuzzy.MatchNormalizedFold(input, items[index])
		},
	}

	index, result, err := prompt.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) || errors.Is(err, promptui.ErrInterrupt) {
			return -1, "", ErrCancelled
		}
		return -1, "", err
	}

	return index, result, nil
}

// FuzzyRank returns the indexes of items matching query, best match first.
// An empty query matches everything in the original order.
func FuzzyRank(query string, items []string) []int {
	query = strings.TrimSpace(query)
	if query == "" {
		out := make([]int, len(items))
		for i := range items {
			out[i] = i
		}
		return out
	}

	ranks := fuzzy.RankFindNormalizedFold(query, items)
	sort.Stable(ranks)

	out := make([]int, len(ranks))
	for i, r := range ranks {
		out[i] = r.OriginalIndex
	}
	return out
}

// ValidateNonEmpty validates that input is not empty
func ValidateNonEmpty(input string) error {
	if len(strings.TrimSpace(input)) == 0 {
		return errors.New("input cannot be empty")
	}
	return nil
}
