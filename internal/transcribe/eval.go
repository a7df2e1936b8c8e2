package transcribe

import (
	"strings"
	"unicode"
)

// Accuracy summarizes how a hypothesis transcript compares to a reference.
// Rate is the word error rate: (substituted + inserted + deleted) divided by
// the reference word count, so 0 is a perfect transcript.
type Accuracy struct {
	Rate        float64
	Substituted int
	Inserted    int
	Deleted     int
	Words       int
}

// Score computes the word error rate of hypothesis against reference.
// Both texts are normalized first: lowercased, punctuation stripped,
// whitespace collapsed.
func Score(reference, hypothesis string) Accuracy {
	ref := words(reference)
	hyp := words(hypothesis)

	n, m := len(ref), len(hyp)
	if n == 0 {
		return Accuracy{}
	}

	// Minimum edit distance over words.
	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 0; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = 1 + min(d[i-1][j-1], min(d[i-1][j], d[i][j-1]))
		}
	}

	// Walk the table backwards to attribute each edit.
	var acc Accuracy
	acc.Words = n
	for i, j := n, m; i > 0 || j > 0; {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			acc.Substituted++
			i--
			j--
		case i > 0 && d[i][j] == d[i-1][j]+1:
			acc.Deleted++
			i--
		default:
			acc.Inserted++
			j--
		}
	}
	acc.Rate = float64(acc.Substituted+acc.Inserted+acc.Deleted) / float64(n)
	return acc
}

// words lowercases text, strips punctuation, and splits on whitespace.
func words(s string) []string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
	return strings.Fields(s)
}
