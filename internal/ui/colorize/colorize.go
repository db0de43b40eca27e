package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas", "GAS", "Gas"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// IsDisabled returns true if colors are disabled via environment
func IsDisabled() bool {
	return os.Getenv("FOLD_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// Instruction colorizes an x86 assembly instruction using Chroma
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return insn
	}

	_ = DisasmDark // Force registration
	style := getDisasmStyle()
	formatter := getTerminalFormatter()

	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return insn
	}

	return strings.TrimSuffix(buf.String(), "\n")
}

// Listing styles for the info command.
var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#569CD6")).Bold(true)
	addressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(IDALabel))
	symbolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(IDARegister))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#B4B4B4"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(IDANumber))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#505050"))
)

func render(style lipgloss.Style, s string) string {
	if IsDisabled() {
		return s
	}
	return style.Render(s)
}

// Header formats section header text in blue.
func Header(s string) string {
	return render(headerStyle, s)
}

// Address formats an address in yellow.
func Address(s string) string {
	return render(addressStyle, s)
}

// Symbol formats a symbol name in light blue.
func Symbol(s string) string {
	return render(symbolStyle, s)
}

// Detail formats detail text in light gray.
func Detail(s string) string {
	return render(detailStyle, s)
}

// Error formats error messages in pink.
func Error(s string) string {
	return render(errorStyle, s)
}

// Border formats border characters in dark gray.
func Border(s string) string {
	return render(borderStyle, s)
}
