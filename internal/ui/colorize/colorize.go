package colorize

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/zboralski/hatchery/internal/trace"
)

// EnvNoColor disables colors when set to any non-empty value.
const EnvNoColor = "HATCHERY_NO_COLOR"

// IsDisabled returns true if colors are disabled via environment.
func IsDisabled() bool {
	return os.Getenv(EnvNoColor) != "" || os.Getenv("NO_COLOR") != ""
}

func lexer() chroma.Lexer {
	for _, name := range []string{"armasm", "gas", "nasm"} {
		if l := lexers.Get(name); l != nil {
			return l
		}
	}
	return nil
}

func formatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

func style() *chroma.Style {
	if s := styles.Get("hatchery-dark"); s != nil {
		return s
	}
	return styles.Fallback
}

// Instruction colorizes assembly text with chroma.
func Instruction(insn string) string {
	if IsDisabled() || insn == "" {
		return insn
	}
	l := lexer()
	if l == nil {
		return insn
	}
	it, err := l.Tokenise(nil, insn)
	if err != nil {
		return insn
	}
	var buf strings.Builder
	if err := formatter().Format(&buf, style(), it); err != nil {
		return insn
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func render(s lipgloss.Style, text string) string {
	if IsDisabled() {
		return text
	}
	return s.Render(text)
}

// Address formats an address as eight hex digits.
func Address(addr uint64) string {
	return render(addressStyle, fmt.Sprintf("%08X", addr))
}

// Tag formats a hashtag.
func Tag(tag string) string {
	return render(tagStyle, tag)
}

// Detail formats secondary text.
func Detail(s string) string {
	return render(detailStyle, s)
}

// HexBytes formats raw instruction bytes.
func HexBytes(b []byte) string {
	return render(detailStyle, fmt.Sprintf("%X", b))
}

// Border formats rules and separators.
func Border(s string) string {
	return render(borderStyle, s)
}

// Comment formats the trailing comment of a trace line.
func Comment(s string) string {
	return render(commentStyle, s)
}

// Header formats section headers.
func Header(s string) string {
	return render(headerStyle, s)
}

// Error formats error messages.
func Error(s string) string {
	return render(errorStyle, s)
}

// insnCol is the column where comments start on exec lines.
const insnCol = 40

// Event renders one trace event as a single line:
//
//	ADDRESS  BYTES  TEXT                ; #tags
//
// Write and interrupt events show their operands instead of bytes.
func Event(ev *trace.Event) string {
	var b strings.Builder
	b.WriteString(Address(ev.PC))
	b.WriteString("  ")
	visible := 10

	switch ev.Tags.Primary() {
	case trace.Write:
		s := fmt.Sprintf("[%08x] <- %#x (%d)", ev.Addr, uint64(ev.Value), ev.Size)
		b.WriteString(Detail(s))
		visible += len(s)
	case trace.Intr:
		s := fmt.Sprintf("interrupt %d", ev.Value)
		b.WriteString(Detail(s))
		visible += len(s)
	default:
		if len(ev.Raw) > 0 {
			b.WriteString(HexBytes(ev.Raw))
			b.WriteString("  ")
			visible += 2*len(ev.Raw) + 2
		}
		b.WriteString(Instruction(ev.Text))
		visible += len(ev.Text)
	}

	var notes []string
	for _, t := range ev.Tags.Strings() {
		notes = append(notes, Tag(t))
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Annotations)) {
		notes = append(notes, Detail(k+"="+ev.Annotations[k]))
	}
	if len(notes) == 0 {
		return b.String()
	}
	for ; visible < insnCol; visible++ {
		b.WriteByte(' ')
	}
	b.WriteString(Comment("; "))
	b.WriteString(strings.Join(notes, " "))
	return b.String()
}
