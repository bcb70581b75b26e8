package chunk

import (
	"regexp"
	"strings"
)

// Config bounds the chunker's output.
type Config struct {
	ChunkSize    int // target length in characters
	ChunkOverlap int // overlap between adjacent chunks
	MinChunkSize int // chunks below this are merged with a neighbor
}

// DefaultConfig mirrors the values used throughout the test scenarios.
func DefaultConfig() Config {
	return Config{ChunkSize: 1000, ChunkOverlap: 200, MinChunkSize: 200}
}

var separatorsByType = map[Type][]string{
	TypeMarkdown: {
		"\n---\n", "\n```", "\n\n",
		"\n##### ", "\n#### ", "\n### ", "\n## ", "\n# ",
		"\n", ". ", "? ", "! ", ": ", "; ", ", ", " ", "",
	},
	TypeCode: {
		"\n\nclass ", "\n\nfunction ", "\n\ndef ", "\n\nexport ", "\n\nimport ",
		"\n\nconst ", "\n\nlet ", "\n\nvar ",
		"\n//", "\n#", "\n\n", "\n", ";", " ", "",
	},
	TypeJSON: {
		"\n\n", "\n", ", ", " ", "",
	},
	TypeDefault: {
		"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", "",
	},
}

var (
	reRunNewlines = regexp.MustCompile(`\n{3,}`)
	reRunSpaces   = regexp.MustCompile(`[ \t]{2,}`)
	reSentenceGap = regexp.MustCompile(`([.!?])([A-Z])`)
)

// Preprocess normalizes whitespace and punctuation ahead of splitting:
// newline runs collapse to exactly two, space/tab runs collapse to one,
// curly quotes normalize to straight ones, and a missing space after
// sentence-end punctuation before a capital letter is inserted.
func Preprocess(text string) string {
	text = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", "\"", "”", "\"",
	).Replace(text)
	text = reRunNewlines.ReplaceAllString(text, "\n\n")
	text = reRunSpaces.ReplaceAllString(text, " ")
	text = reSentenceGap.ReplaceAllString(text, "$1 $2")
	return text
}

// segment is a candidate split with its offset into the original text,
// carried through recursion so final chunks know their character range.
type segment struct {
	text  string
	start int
}

// Split preprocesses text and splits it into bounded, overlap-respecting
// chunks using the separator-priority list for typ.
func Split(text string, typ Type, cfg Config) []Chunk {
	pre := Preprocess(text)
	if strings.TrimSpace(pre) == "" {
		return nil
	}

	seps, ok := separatorsByType[typ]
	if !ok {
		seps = separatorsByType[TypeDefault]
	}

	segs := splitRecursive(segment{text: pre, start: 0}, seps, cfg)
	segs = mergeSegments(segs, cfg)
	segs = mergeUndersizedTails(segs, cfg)

	chunks := make([]Chunk, len(segs))
	for i, s := range segs {
		chunks[i] = Chunk{
			ChunkIndex: i,
			Content:    s.text,
			Start:      s.start,
			End:        s.start + len(s.text),
		}
	}
	return chunks
}

// splitRecursive repeatedly applies the highest-priority separator present
// in the segment, recursing into any piece still over chunkSize with the
// remaining separators. The final separator in every list is "", which
// falls back to a hard character-length split so the size bound always holds.
func splitRecursive(seg segment, seps []string, cfg Config) []segment {
	if len(seg.text) <= cfg.ChunkSize {
		return []segment{seg}
	}
	if len(seps) == 0 {
		return hardSplit(seg, cfg.ChunkSize)
	}

	sep := seps[0]
	rest := seps[1:]

	var pieces []segment
	if sep == "" {
		pieces = hardSplit(seg, cfg.ChunkSize)
	} else if !strings.Contains(seg.text, sep) {
		return splitRecursive(seg, rest, cfg)
	} else {
		pieces = splitBySeparator(seg, sep)
	}

	var out []segment
	for _, p := range pieces {
		if len(p.text) > cfg.ChunkSize && sep != "" {
			out = append(out, splitRecursive(p, rest, cfg)...)
		} else {
			out = append(out, p)
		}
	}
	return out
}

func splitBySeparator(seg segment, sep string) []segment {
	parts := strings.Split(seg.text, sep)
	out := make([]segment, 0, len(parts))
	offset := seg.start
	for i, part := range parts {
		out = append(out, segment{text: part, start: offset})
		offset += len(part)
		if i < len(parts)-1 {
			offset += len(sep)
		}
	}
	return out
}

func hardSplit(seg segment, size int) []segment {
	if size <= 0 {
		size = 1000
	}
	var out []segment
	text := seg.text
	offset := seg.start
	for len(text) > size {
		out = append(out, segment{text: text[:size], start: offset})
		text = text[size:]
		offset += size
	}
	if len(text) > 0 {
		out = append(out, segment{text: text, start: offset})
	}
	return out
}

// mergeSegments packs consecutive small pieces into chunks up to chunkSize,
// carrying chunkOverlap characters of trailing context into the next chunk.
func mergeSegments(segs []segment, cfg Config) []segment {
	var result []segment
	var window []segment
	total := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		var b strings.Builder
		for i, s := range window {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(s.text)
		}
		result = append(result, segment{text: b.String(), start: window[0].start})
	}

	for _, s := range segs {
		if s.text == "" {
			continue
		}
		if total+len(s.text) > cfg.ChunkSize && len(window) > 0 {
			flush()
			for total > cfg.ChunkOverlap && len(window) > 1 {
				total -= len(window[0].text)
				window = window[1:]
			}
			if total > cfg.ChunkOverlap {
				window = nil
				total = 0
			}
		}
		window = append(window, s)
		total += len(s.text)
	}
	flush()
	return result
}

// mergeUndersizedTails concatenates a chunk below minChunkSize with its
// successor when one exists, per spec step 4.
func mergeUndersizedTails(segs []segment, cfg Config) []segment {
	var out []segment
	for i := 0; i < len(segs); i++ {
		cur := segs[i]
		if len(strings.TrimSpace(cur.text)) < cfg.MinChunkSize && i+1 < len(segs) {
			next := segs[i+1]
			cur = segment{
				text:  cur.text + "\n\n" + next.text,
				start: cur.start,
			}
			i++
		}
		out = append(out, cur)
	}
	return out
}
