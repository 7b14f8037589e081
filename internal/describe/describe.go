// Package describe turns detections or image brightness into one short spoken sentence.
package describe

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultThreshold is the confidence a detection must strictly exceed to count.
const DefaultThreshold = 0.5

// ClearUtterance is spoken when nothing in the vocabulary was detected.
const ClearUtterance Utterance = "I can't see any objects. The area looks clear."

// Utterance is one sentence ready for speech. It is never empty.
type Utterance string

func (u Utterance) String() string { return string(u) }

// Detection is one labelled finding with a confidence in [0,1].
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Summary counts accepted detections per normalized label.
type Summary map[string]int

// Summarize keeps detections whose confidence is strictly above threshold and
// whose label is in vocab.
func Summarize(detections []Detection, threshold float64, vocab Vocabulary) Summary {
	summary := make(Summary)
	for _, det := range detections {
		if !(det.Confidence > threshold) {
			continue
		}
		label := NormalizeLabel(det.Label)
		if !vocab.Contains(label) {
			continue
		}
		summary[label]++
	}
	return summary
}

// Total returns the number of accepted detections.
func (s Summary) Total() int {
	total := 0
	for _, n := range s {
		total += n
	}
	return total
}

type labelCount struct {
	label string
	count int
}

// Describe renders a summary as "I can see 2 people, a chair and a laptop".
// Labels are ordered by descending count, then alphabetically.
func Describe(summary Summary, vocab Vocabulary) Utterance {
	items := make([]labelCount, 0, len(summary))
	for label, count := range summary {
		if count <= 0 {
			continue
		}
		items = append(items, labelCount{label: label, count: count})
	}
	if len(items) == 0 {
		return ClearUtterance
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].label < items[j].label
	})

	phrases := make([]string, 0, len(items))
	for _, item := range items {
		phrases = append(phrases, phrase(item, vocab))
	}
	return Utterance("I can see " + joinPhrases(phrases))
}

func phrase(item labelCount, vocab Vocabulary) string {
	if item.count == 1 {
		return article(item.label) + " " + item.label
	}
	return strconv.Itoa(item.count) + " " + vocab.Plural(item.label)
}

func article(label string) string {
	if label != "" && isVowel(label[0]) {
		return "an"
	}
	return "a"
}

func joinPhrases(phrases []string) string {
	switch len(phrases) {
	case 1:
		return phrases[0]
	default:
		return strings.Join(phrases[:len(phrases)-1], ", ") + " and " + phrases[len(phrases)-1]
	}
}
