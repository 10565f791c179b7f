package expression

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"sort"
	"strings"
	"unicode"
)

// Regexp is a pattern that evaluates the same way in process and in a
// compiled artifact. The Go side matches leftmost-longest, as POSIX does;
// the artifact side uses an equivalent POSIX extended regular expression
// for bash's [[ =~ ]].
//
// Constructs with no ERE rendering are rejected: non-greedy repetition,
// word boundaries, multi-line anchors and classes that only match NUL.
type Regexp struct {
	source string
	re     *regexp.Regexp
	ere    string
	groups []int // ERE group number of each capture group; groups[0] is unused
}

// CompileRegexp parses pattern with Go's syntax and derives its ERE form.
func CompileRegexp(pattern string) (*Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	re.Longest()

	tree, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, err
	}
	r := &ereRenderer{groups: make([]int, tree.MaxCap()+1)}
	var b strings.Builder
	if err := r.render(&b, tree); err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return &Regexp{source: pattern, re: re, ere: b.String(), groups: r.groups}, nil
}

// MustCompileRegexp is CompileRegexp for constant patterns; it panics on
// error.
func MustCompileRegexp(pattern string) *Regexp {
	r, err := CompileRegexp(pattern)
	if err != nil {
		panic(err)
	}
	return r
}

// String returns the pattern as written.
func (r *Regexp) String() string { return r.source }

// ERE returns the POSIX extended form of the pattern.
func (r *Regexp) ERE() string { return r.ere }

// NumSubexp returns the number of capture groups in the pattern.
func (r *Regexp) NumSubexp() int { return len(r.groups) - 1 }

// EREGroup returns the BASH_REMATCH index of capture group n. Group 0 is
// the whole match.
func (r *Regexp) EREGroup(n int) int {
	if n <= 0 || n >= len(r.groups) {
		return 0
	}
	return r.groups[n]
}

// MatchString reports whether s contains a match.
func (r *Regexp) MatchString(s string) bool { return r.re.MatchString(s) }

// FindStringSubmatch returns the leftmost-longest match and its groups.
func (r *Regexp) FindStringSubmatch(s string) []string { return r.re.FindStringSubmatch(s) }

type ereRenderer struct {
	groups []int
	n      int // ERE groups opened so far
}

func (r *ereRenderer) open(b *strings.Builder) int {
	r.n++
	b.WriteByte('(')
	return r.n
}

func (r *ereRenderer) render(b *strings.Builder, re *syntax.Regexp) error {
	switch re.Op {
	case syntax.OpEmptyMatch:
		r.open(b)
		b.WriteByte(')')
	case syntax.OpLiteral:
		for _, c := range re.Rune {
			if err := writeLiteral(b, c, re.Flags&syntax.FoldCase != 0); err != nil {
				return err
			}
		}
	case syntax.OpCharClass:
		return writeClass(b, re.Rune)
	case syntax.OpAnyCharNotNL:
		b.WriteString("[^\n]")
	case syntax.OpAnyChar:
		b.WriteByte('.')
	case syntax.OpBeginText:
		b.WriteByte('^')
	case syntax.OpEndText:
		b.WriteByte('$')
	case syntax.OpBeginLine, syntax.OpEndLine:
		return fmt.Errorf("multi-line anchors have no POSIX equivalent")
	case syntax.OpWordBoundary, syntax.OpNoWordBoundary:
		return fmt.Errorf("word boundaries have no POSIX equivalent")
	case syntax.OpNoMatch:
		return fmt.Errorf("pattern can never match")
	case syntax.OpCapture:
		r.groups[re.Cap] = r.open(b)
		if err := r.render(b, re.Sub[0]); err != nil {
			return err
		}
		b.WriteByte(')')
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		if re.Flags&syntax.NonGreedy != 0 {
			return fmt.Errorf("non-greedy repetition has no POSIX equivalent")
		}
		if err := r.atom(b, re.Sub[0]); err != nil {
			return err
		}
		switch re.Op {
		case syntax.OpStar:
			b.WriteByte('*')
		case syntax.OpPlus:
			b.WriteByte('+')
		case syntax.OpQuest:
			b.WriteByte('?')
		default:
			switch {
			case re.Max == -1:
				fmt.Fprintf(b, "{%d,}", re.Min)
			case re.Max == re.Min:
				fmt.Fprintf(b, "{%d}", re.Min)
			default:
				fmt.Fprintf(b, "{%d,%d}", re.Min, re.Max)
			}
		}
	case syntax.OpConcat:
		for _, sub := range re.Sub {
			if sub.Op == syntax.OpAlternate {
				if err := r.group(b, sub); err != nil {
					return err
				}
				continue
			}
			if err := r.render(b, sub); err != nil {
				return err
			}
		}
	case syntax.OpAlternate:
		for i, sub := range re.Sub {
			if i > 0 {
				b.WriteByte('|')
			}
			if err := r.render(b, sub); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unsupported construct %s", re.Op)
	}
	return nil
}

// atom renders re as the operand of a repetition operator.
func (r *ereRenderer) atom(b *strings.Builder, re *syntax.Regexp) error {
	switch re.Op {
	case syntax.OpCharClass, syntax.OpAnyChar, syntax.OpAnyCharNotNL, syntax.OpCapture, syntax.OpEmptyMatch:
		return r.render(b, re)
	case syntax.OpLiteral:
		if len(re.Rune) == 1 {
			return r.render(b, re)
		}
	}
	return r.group(b, re)
}

func (r *ereRenderer) group(b *strings.Builder, re *syntax.Regexp) error {
	r.open(b)
	if err := r.render(b, re); err != nil {
		return err
	}
	b.WriteByte(')')
	return nil
}

const ereSpecial = `.[\()*+?{|^$`

func writeLiteral(b *strings.Builder, c rune, fold bool) error {
	if c == 0 {
		return fmt.Errorf("NUL cannot appear in a bash pattern")
	}
	if fold {
		variants := []rune{c}
		for f := unicode.SimpleFold(c); f != c; f = unicode.SimpleFold(f) {
			variants = append(variants, f)
		}
		if len(variants) > 1 {
			sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })
			ranges := make([]rune, 0, 2*len(variants))
			for _, v := range variants {
				ranges = append(ranges, v, v)
			}
			return writeClass(b, ranges)
		}
	}
	if strings.ContainsRune(ereSpecial, c) {
		b.WriteByte('\\')
	}
	b.WriteRune(c)
	return nil
}

// Characters that change meaning depending on where they sit in a bracket
// expression.
var bracketSpecial = []rune{'-', '[', ']', '^'}

// writeClass renders sorted, non-overlapping [lo, hi] pairs as a bracket
// expression. Classes reaching the top of the Unicode range are rendered
// negated.
func writeClass(b *strings.Builder, ranges []rune) error {
	negate := len(ranges) > 0 && ranges[len(ranges)-1] == unicode.MaxRune
	if negate {
		ranges = complement(ranges)
		if len(ranges) == 0 {
			b.WriteByte('.')
			return nil
		}
	}
	// NUL cannot occur in bash strings, so it is dropped from classes.
	if len(ranges) > 0 && ranges[0] == 0 {
		if ranges[1] == 0 {
			ranges = ranges[2:]
		} else {
			ranges = append([]rune{1}, ranges[1:]...)
		}
	}
	if len(ranges) == 0 {
		if negate {
			b.WriteByte('.')
			return nil
		}
		return fmt.Errorf("character class only matches NUL")
	}

	var items []string
	has := make(map[rune]bool)
	for i := 0; i < len(ranges); i += 2 {
		lo, hi := ranges[i], ranges[i+1]
		for _, s := range bracketSpecial {
			if s < lo || s > hi {
				continue
			}
			has[s] = true
			if s > lo {
				items = append(items, rangeItem(lo, s-1))
			}
			lo = s + 1
		}
		if lo <= hi {
			items = append(items, rangeItem(lo, hi))
		}
	}

	if !negate && len(items) == 0 && !has[']'] && !has['['] && has['^'] {
		if !has['-'] {
			b.WriteString(`\^`)
			return nil
		}
		b.WriteString("[-^]")
		return nil
	}

	b.WriteByte('[')
	if negate {
		b.WriteByte('^')
	}
	if has[']'] {
		b.WriteByte(']')
	}
	for _, it := range items {
		b.WriteString(it)
	}
	if has['['] {
		b.WriteByte('[')
	}
	if has['^'] {
		b.WriteByte('^')
	}
	if has['-'] {
		b.WriteByte('-')
	}
	b.WriteByte(']')
	return nil
}

func rangeItem(lo, hi rune) string {
	switch {
	case lo == hi:
		return string(lo)
	case hi == lo+1:
		return string(lo) + string(hi)
	}
	return string(lo) + "-" + string(hi)
}

// complement returns the pairs not covered by ranges within [0, MaxRune].
func complement(ranges []rune) []rune {
	var out []rune
	next := rune(0)
	for i := 0; i < len(ranges); i += 2 {
		if ranges[i] > next {
			out = append(out, next, ranges[i]-1)
		}
		next = ranges[i+1] + 1
	}
	if next <= unicode.MaxRune {
		out = append(out, next, unicode.MaxRune)
	}
	return out
}
