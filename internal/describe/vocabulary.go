package describe

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Vocabulary is the label set a detector is allowed to report, indexed by class id.
type Vocabulary struct {
	Labels  []string          `yaml:"labels"`
	Plurals map[string]string `yaml:"plurals"`

	known map[string]struct{}
}

var cocoLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

var defaultPlurals = map[string]string{
	"person":   "people",
	"mouse":    "mice",
	"knife":    "knives",
	"sheep":    "sheep",
	"skis":     "skis",
	"scissors": "scissors",
	"broccoli": "broccoli",
}

// DefaultVocabulary returns the COCO-80 label set with its irregular plurals.
func DefaultVocabulary() Vocabulary {
	labels := append([]string(nil), cocoLabels...)
	plurals := make(map[string]string, len(defaultPlurals))
	for k, v := range defaultPlurals {
		plurals[k] = v
	}
	return newVocabulary(labels, plurals)
}

// LoadVocabulary reads a YAML vocabulary file. Irregular plurals missing from
// the file fall back to the built-in table.
func LoadVocabulary(path string) (Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("read vocabulary %q: %w", path, err)
	}

	var raw Vocabulary
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Vocabulary{}, fmt.Errorf("parse vocabulary %q: %w", path, err)
	}
	if len(raw.Labels) == 0 {
		return Vocabulary{}, fmt.Errorf("vocabulary %q: labels must not be empty", path)
	}

	plurals := make(map[string]string, len(defaultPlurals)+len(raw.Plurals))
	for k, v := range defaultPlurals {
		plurals[k] = v
	}
	for k, v := range raw.Plurals {
		plurals[NormalizeLabel(k)] = strings.TrimSpace(v)
	}
	return newVocabulary(raw.Labels, plurals), nil
}

func newVocabulary(labels []string, plurals map[string]string) Vocabulary {
	v := Vocabulary{
		Labels:  make([]string, len(labels)),
		Plurals: plurals,
		known:   make(map[string]struct{}, len(labels)),
	}
	for i, label := range labels {
		normalized := NormalizeLabel(label)
		v.Labels[i] = normalized
		if normalized != "" {
			v.known[normalized] = struct{}{}
		}
	}
	return v
}

// Contains reports whether label (after normalization) is in the vocabulary.
func (v Vocabulary) Contains(label string) bool {
	if v.known == nil {
		return false
	}
	_, ok := v.known[NormalizeLabel(label)]
	return ok
}

// Label maps a numeric class id to its label.
func (v Vocabulary) Label(classID int) (string, bool) {
	if classID < 0 || classID >= len(v.Labels) || v.Labels[classID] == "" {
		return "", false
	}
	return v.Labels[classID], true
}

// Plural returns the plural form of a normalized label.
func (v Vocabulary) Plural(label string) string {
	if irregular, ok := v.Plurals[label]; ok && irregular != "" {
		return irregular
	}
	return pluralize(label)
}

// NormalizeLabel lowercases, trims and collapses separators in a detector label.
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.NewReplacer("_", " ", "-", " ").Replace(label)
	return strings.Join(strings.Fields(label), " ")
}

func pluralize(label string) string {
	head, last := splitLastWord(label)
	return head + pluralWord(last)
}

func pluralWord(word string) string {
	switch {
	case word == "":
		return word
	case hasAnySuffix(word, "s", "x", "z", "ch", "sh"):
		return word + "es"
	case len(word) > 1 && word[len(word)-1] == 'y' && !isVowel(word[len(word)-2]):
		return word[:len(word)-1] + "ies"
	default:
		return word + "s"
	}
}

func splitLastWord(label string) (string, string) {
	idx := strings.LastIndexByte(label, ' ')
	if idx < 0 {
		return "", label
	}
	return label[:idx+1], label[idx+1:]
}

func hasAnySuffix(word string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(word, suffix) {
			return true
		}
	}
	return false
}

func isVowel(b byte) bool {
	switch b {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	default:
		return false
	}
}
