package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// frontMatter is the YAML header of a script file.
type frontMatter struct {
	Parameters map[string]string `yaml:"parameters"`
	Inputs     []string          `yaml:"inputs"`
	Outputs    []string          `yaml:"outputs"`
	Imports    []string          `yaml:"imports"`
	AutoRun    bool              `yaml:"autoRun"`
}

var (
	delimiterRe   = regexp.MustCompile(`^---\s*$`)
	roleLineRe    = regexp.MustCompile(`^(system|user|assistant):\s?(.*)$`)
	chainRe       = regexp.MustCompile(`^->\s*([A-Za-z0-9_./-]+)\s*(?:\((.*)\))?\s*$`)
	placeholderRe = regexp.MustCompile(`\{\{\s*ai(?::([A-Za-z_][A-Za-z0-9_]*))?((?:\s[^}]*)?)\}\}`)
)

// Parse parses script source text into an immutable Script.
func Parse(src, name string) (*Script, error) {
	s := &Script{
		Name:   name,
		Params: map[string]string{},
	}

	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	body := lines

	// Optional YAML front matter delimited by the first two --- lines.
	if len(lines) > 0 && delimiterRe.MatchString(lines[0]) {
		end := -1
		for i := 1; i < len(lines); i++ {
			if delimiterRe.MatchString(lines[i]) {
				end = i
				break
			}
		}
		if end == -1 {
			return nil, fmt.Errorf("%s: unterminated front matter", name)
		}
		var fm frontMatter
		if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &fm); err != nil {
			return nil, fmt.Errorf("%s: front matter: %w", name, err)
		}
		if fm.Parameters != nil {
			s.Params = fm.Parameters
		}
		s.Inputs = fm.Inputs
		s.Outputs = fm.Outputs
		s.Imports = fm.Imports
		s.AutoRun = fm.AutoRun
		body = lines[end+1:]
	}

	// Split the body into turns on --- delimiters.
	var turnChunks [][]string
	current := []string{}
	for _, line := range body {
		if delimiterRe.MatchString(line) {
			turnChunks = append(turnChunks, current)
			current = []string{}
			continue
		}
		current = append(current, line)
	}
	turnChunks = append(turnChunks, current)

	for i, chunk := range turnChunks {
		turn, err := parseTurn(chunk)
		if err != nil {
			return nil, fmt.Errorf("%s: turn %d: %w", name, i+1, err)
		}
		if turn != nil {
			s.Turns = append(s.Turns, *turn)
		}
	}

	if len(s.Turns) == 0 {
		return nil, fmt.Errorf("%s: script has no turns", name)
	}
	return s, nil
}

// parseTurn parses one ----delimited chunk. Returns nil for empty chunks.
func parseTurn(lines []string) (*Turn, error) {
	turn := &Turn{}
	empty := true

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		empty = false

		switch {
		case chainRe.MatchString(trimmed):
			m := chainRe.FindStringSubmatch(trimmed)
			if turn.Chain != nil {
				return nil, fmt.Errorf("multiple chain directives")
			}
			turn.Chain = &ChainDirective{Target: m[1], Params: parseKVList(m[2])}

		case strings.HasPrefix(trimmed, "$if ") || strings.HasPrefix(trimmed, "$while ") ||
			strings.HasPrefix(trimmed, "$for ") || strings.HasPrefix(trimmed, "$match "):
			block, consumed, err := parseBlock(lines[i:])
			if err != nil {
				return nil, err
			}
			turn.Blocks = append(turn.Blocks, *block)
			i += consumed - 1

		case strings.HasPrefix(trimmed, "$pipe "):
			elems := strings.Split(strings.TrimPrefix(trimmed, "$pipe "), "|")
			block := ControlFlowBlock{Kind: BlockPipe}
			for _, e := range elems {
				if e = strings.TrimSpace(e); e != "" {
					block.Pipe = append(block.Pipe, e)
				}
			}
			turn.Blocks = append(turn.Blocks, block)

		case strings.HasPrefix(trimmed, "$"):
			turn.Instructions = append(turn.Instructions, parseInstruction(trimmed))

		case roleLineRe.MatchString(trimmed):
			m := roleLineRe.FindStringSubmatch(trimmed)
			msg, err := parseMessage(m[1], m[2])
			if err != nil {
				return nil, err
			}
			turn.Messages = append(turn.Messages, *msg)

		default:
			// Continuation of the previous message body.
			if len(turn.Messages) == 0 {
				return nil, fmt.Errorf("unexpected line %q", trimmed)
			}
			last := &turn.Messages[len(turn.Messages)-1]
			last.Content += "\n" + line
		}
	}

	if empty {
		return nil, nil
	}
	return turn, nil
}

// parseBlock parses an $if/$while/$for/$match block starting at lines[0],
// returning the block and the number of lines consumed (through $end).
func parseBlock(lines []string) (*ControlFlowBlock, int, error) {
	head := strings.TrimSpace(lines[0])
	block := &ControlFlowBlock{}

	switch {
	case strings.HasPrefix(head, "$if "):
		block.Kind = BlockIf
		block.Cond = strings.TrimSpace(strings.TrimPrefix(head, "$if "))
	case strings.HasPrefix(head, "$while "):
		block.Kind = BlockWhile
		block.Cond = strings.TrimSpace(strings.TrimPrefix(head, "$while "))
	case strings.HasPrefix(head, "$for "):
		block.Kind = BlockFor
		block.Cond = strings.TrimSpace(strings.TrimPrefix(head, "$for "))
	case strings.HasPrefix(head, "$match "):
		block.Kind = BlockMatch
		block.Cond = strings.TrimSpace(strings.TrimPrefix(head, "$match "))
	default:
		return nil, 0, fmt.Errorf("not a block header: %q", head)
	}

	inElse := false
	var currentCase *MatchCase
	inDefault := false

	appendInstr := func(instr Instruction) {
		switch {
		case block.Kind == BlockMatch && inDefault:
			block.Default = append(block.Default, instr)
		case block.Kind == BlockMatch && currentCase != nil:
			currentCase.Body = append(currentCase.Body, instr)
		case inElse:
			block.Else = append(block.Else, instr)
		default:
			block.Body = append(block.Body, instr)
		}
	}

	for i := 1; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		switch {
		case trimmed == "$end":
			if currentCase != nil {
				block.Cases = append(block.Cases, *currentCase)
			}
			return block, i + 1, nil
		case trimmed == "$else":
			if block.Kind != BlockIf {
				return nil, 0, fmt.Errorf("$else outside $if")
			}
			inElse = true
		case strings.HasPrefix(trimmed, "$case "):
			if block.Kind != BlockMatch {
				return nil, 0, fmt.Errorf("$case outside $match")
			}
			if currentCase != nil {
				block.Cases = append(block.Cases, *currentCase)
			}
			currentCase = &MatchCase{Value: strings.TrimSpace(strings.TrimPrefix(trimmed, "$case "))}
		case trimmed == "$default":
			if block.Kind != BlockMatch {
				return nil, 0, fmt.Errorf("$default outside $match")
			}
			if currentCase != nil {
				block.Cases = append(block.Cases, *currentCase)
				currentCase = nil
			}
			inDefault = true
		case trimmed == "":
			// blank lines inside blocks are ignored
		case strings.HasPrefix(trimmed, "$"):
			appendInstr(parseInstruction(trimmed))
		default:
			return nil, 0, fmt.Errorf("unexpected line in %s block: %q", block.Kind, trimmed)
		}
	}
	return nil, 0, fmt.Errorf("%s block missing $end", block.Kind)
}

// parseInstruction splits `$name args` into an Instruction.
func parseInstruction(line string) Instruction {
	rest := strings.TrimPrefix(line, "$")
	name, args, _ := strings.Cut(rest, " ")
	return Instruction{Name: name, Args: strings.TrimSpace(args)}
}

// parseMessage extracts the placeholder and choice spec from a message body.
func parseMessage(role, content string) (*Message, error) {
	msg := &Message{Role: role, Content: content}

	m := placeholderRe.FindStringSubmatch(content)
	if m == nil {
		return msg, nil
	}

	ph := &Placeholder{BindVar: m[1]}
	attrs := parseAttrs(m[2])
	for key, val := range attrs {
		switch key {
		case "model":
			ph.Model = val
		case "temperature":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("placeholder temperature %q: %w", val, err)
			}
			ph.Temperature = &f
		case "top_p":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return nil, fmt.Errorf("placeholder top_p %q: %w", val, err)
			}
			ph.TopP = &f
		case "top_k":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("placeholder top_k %q: %w", val, err)
			}
			ph.TopK = &n
		case "choices":
			opts := strings.Split(val, "|")
			choice := msg.Choice
			if choice == nil {
				choice = &ChoiceSpec{Count: 1}
				msg.Choice = choice
			}
			for _, o := range opts {
				if o = strings.TrimSpace(o); o != "" {
					choice.Options = append(choice.Options, o)
				}
			}
		case "count":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("placeholder count %q: %w", val, err)
			}
			if msg.Choice == nil {
				msg.Choice = &ChoiceSpec{}
			}
			msg.Choice.Count = n
		case "random":
			if msg.Choice == nil {
				msg.Choice = &ChoiceSpec{Count: 1}
			}
			msg.Choice.Random = true
		}
	}
	msg.Placeholder = ph
	return msg, nil
}

// parseAttrs parses `key=value key2="quoted value" flag` attribute lists.
func parseAttrs(s string) map[string]string {
	attrs := map[string]string{}
	fields := splitQuoted(s)
	for _, f := range fields {
		key, val, found := strings.Cut(f, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found {
			attrs[key] = "true"
			continue
		}
		attrs[key] = strings.Trim(val, `"`)
	}
	return attrs
}

// splitQuoted splits on whitespace while keeping double-quoted spans intact.
func splitQuoted(s string) []string {
	var fields []string
	var sb strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			sb.WriteRune(r)
		case !inQuote && (r == ' ' || r == '\t'):
			if sb.Len() > 0 {
				fields = append(fields, sb.String())
				sb.Reset()
			}
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		fields = append(fields, sb.String())
	}
	return fields
}

// parseKVList parses `a=1, b=two` chain parameter lists.
func parseKVList(s string) map[string]string {
	params := map[string]string{}
	for _, part := range strings.Split(s, ",") {
		key, val, found := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if !found {
			params[key] = ""
			continue
		}
		params[key] = strings.Trim(strings.TrimSpace(val), `"`)
	}
	return params
}

// StripPlaceholder removes AI placeholder markup from message content,
// leaving the surrounding prose.
func StripPlaceholder(content string) string {
	return strings.TrimSpace(placeholderRe.ReplaceAllString(content, ""))
}
