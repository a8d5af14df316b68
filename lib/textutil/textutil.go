package textutil

import (
	"regexp"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName lowercases and removes all whitespace, two token names that
// normalize the same are considered the same token.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// Similar pairs two names that are not equal after normalization but are at
// least `threshold` alike by Jaro-Winkler similarity.
type Similar struct {
	Left       string
	Right      string
	Similarity float64
}

// NearDuplicates returns every pair of distinct names whose similarity is at
// least threshold, pairs are sorted by descending similarity.
func NearDuplicates(names []string, threshold float64) []Similar {
	seen := map[string]bool{}
	var unique []string
	for _, n := range names {
		key := NormalizeName(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, key)
	}

	var out []Similar
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			sim := matchr.JaroWinkler(unique[i], unique[j], false)
			if sim >= threshold {
				out = append(out, Similar{Left: unique[i], Right: unique[j], Similarity: sim})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	return out
}

// Duplicates returns the values that occur more than once (after
// normalization) together with their count, ordered by first occurrence.
func Duplicates(values []string, ignore ...string) map[string]int {
	skip := map[string]bool{}
	for _, i := range ignore {
		skip[NormalizeName(i)] = true
	}

	counts := map[string]int{}
	for _, v := range values {
		key := NormalizeName(v)
		if key == "" || skip[key] {
			continue
		}
		counts[key]++
	}
	for k, c := range counts {
		if c < 2 {
			delete(counts, k)
		}
	}
	return counts
}
