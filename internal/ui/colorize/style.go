// Package colorize renders trace output for the terminal. Instruction text
// goes through a chroma lexer; everything else uses lipgloss styles.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// Palette used by both the chroma style and the lipgloss styles.
const (
	ColorAddress  = "#FFC800" // yellow
	ColorMnemonic = "#FFFFFF"
	ColorRegister = "#87CEEB" // light blue
	ColorNumber   = "#FF80C0" // pink
	ColorComment  = "#FF8000" // orange
	ColorDetail   = "#B4B4B4" // light gray
	ColorBorder   = "#505050"
	ColorHeader   = "#569CD6" // blue
	ColorTag      = "#FFB4C8"
	ColorError    = "#FF80C0"
)

// HatcheryDark is the chroma style for ARM and MIPS disassembly.
var HatcheryDark = styles.Register(chroma.MustNewStyle("hatchery-dark", chroma.StyleEntries{
	chroma.Text:           ColorMnemonic,
	chroma.Background:     "bg:#000000",
	chroma.Comment:        ColorComment,
	chroma.CommentPreproc: ColorComment,

	chroma.Keyword:       ColorMnemonic,
	chroma.KeywordPseudo: ColorMnemonic,
	chroma.Name:          ColorRegister,
	chroma.NameBuiltin:   ColorRegister,
	chroma.NameVariable:  ColorRegister,
	chroma.NameFunction:  ColorMnemonic,
	chroma.NameLabel:     ColorAddress,

	chroma.LiteralNumber:        ColorNumber,
	chroma.LiteralNumberHex:     ColorNumber,
	chroma.LiteralNumberBin:     ColorNumber,
	chroma.LiteralNumberOct:     ColorNumber,
	chroma.LiteralNumberInteger: ColorNumber,

	chroma.Operator:    ColorMnemonic,
	chroma.Punctuation: ColorMnemonic,
	chroma.String:      "#00FF00",
}))

var (
	addressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAddress))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDetail))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorBorder))
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHeader)).Bold(true)
	tagStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorTag))
	commentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorComment))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorError))
)
