package posts

import (
	"fmt"
	"strings"
	"testing"
)

func TestSplitContentShortTextUntouched(t *testing.T) {
	for _, text := range []string{"hello world", strings.Repeat("a", MaxSegmentLength), strings.Repeat("я", MaxSegmentLength)} {
		chunks := SplitContent(text, MaxSegmentLength)
		if len(chunks) != 1 {
			t.Fatalf("expected single chunk, got %d", len(chunks))
		}
		if chunks[0] != text {
			t.Fatalf("short text must be returned verbatim, got %q", chunks[0])
		}
		if NeedsSplit(text, MaxSegmentLength) {
			t.Fatalf("NeedsSplit must be false for %d runes", len([]rune(text)))
		}
	}
}

func TestSplitContentTwoChunksWithNumbering(t *testing.T) {
	chunks := SplitContent(strings.Repeat("A", 300), MaxSegmentLength)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0], "1/2 ") {
		t.Fatalf("first chunk must start with numbering, got %q", chunks[0][:8])
	}
	if !strings.HasPrefix(chunks[1], "2/2 ") {
		t.Fatalf("second chunk must start with numbering, got %q", chunks[1][:8])
	}
	for i, chunk := range chunks {
		if length := len([]rune(chunk)); length > MaxSegmentLength {
			t.Fatalf("chunk %d exceeds limit: %d", i, length)
		}
	}
}

func TestSplitContentPrefersSentenceEnd(t *testing.T) {
	sentence := strings.Repeat("a", 199) + "."
	text := sentence + " " + strings.Repeat("b", 150)

	chunks := SplitContent(text, MaxSegmentLength)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != "1/2 "+sentence {
		t.Fatalf("first chunk must end at the sentence boundary, got %q", chunks[0])
	}
	if chunks[1] != "2/2 "+strings.Repeat("b", 150) {
		t.Fatalf("unexpected second chunk: %q", chunks[1])
	}
}

func TestSplitContentPrefersParagraphBreak(t *testing.T) {
	first := strings.Repeat("a", 150)
	second := strings.Repeat("b", 200)

	chunks := SplitContent(first+"\n\n"+second, MaxSegmentLength)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0] != "1/2 "+first {
		t.Fatalf("first chunk must end at the paragraph break, got %q", chunks[0])
	}
	if chunks[1] != "2/2 "+second {
		t.Fatalf("unexpected second chunk: %q", chunks[1])
	}
}

func TestSplitContentFallsBackToSpace(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 70))

	chunks := SplitContent(text, MaxSegmentLength)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if length := len([]rune(chunk)); length > MaxSegmentLength {
			t.Fatalf("chunk %d exceeds limit: %d", i, length)
		}
		if strings.HasSuffix(chunk, "wor") || strings.HasSuffix(chunk, "wo") {
			t.Fatalf("chunk %d cut inside a word: %q", i, chunk)
		}
	}
}

func TestSplitContentHardCutUnbreakableText(t *testing.T) {
	chunks := SplitContent(strings.Repeat("я", 600), MaxSegmentLength)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if length := len([]rune(chunk)); length > MaxSegmentLength {
			t.Fatalf("chunk %d exceeds limit: %d", i, length)
		}
		if !strings.HasPrefix(chunk, fmt.Sprintf("%d/3 ", i+1)) {
			t.Fatalf("chunk %d has wrong numbering: %q", i, chunk[:8])
		}
	}
}

func TestSplitContentReassembles(t *testing.T) {
	var builder strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&builder, "Sentence number %d carries a handful of ordinary words. ", i)
	}
	builder.WriteString("\n\nFinal paragraph with a short tail.")
	text := builder.String()

	chunks := SplitContent(text, MaxSegmentLength)
	if len(chunks) < 2 {
		t.Fatalf("fixture must produce a thread, got %d chunks", len(chunks))
	}

	stripped := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prefix := fmt.Sprintf("%d/%d ", i+1, len(chunks))
		if !strings.HasPrefix(chunk, prefix) {
			t.Fatalf("chunk %d missing prefix %q: %q", i, prefix, chunk[:12])
		}
		stripped = append(stripped, strings.TrimPrefix(chunk, prefix))
	}

	got := strings.Join(strings.Fields(strings.Join(stripped, " ")), " ")
	want := strings.Join(strings.Fields(text), " ")
	if got != want {
		t.Fatalf("chunks do not reassemble to the original text")
	}
}

func TestSplitContentDeterministic(t *testing.T) {
	text := strings.Repeat("Mixed content with sentences. And line\nbreaks here and there. ", 10)

	first := SplitContent(text, MaxSegmentLength)
	second := SplitContent(text, MaxSegmentLength)
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}
