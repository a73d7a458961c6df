package compiler

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrInvalidOutput is returned by Check when generated text is not
// well-formed for its format.
var ErrInvalidOutput = errors.New("generated rule is not well-formed")

const structuredSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "id", "metadata", "components", "connections", "logic", "performance", "validation"],
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["name", "type", "priority"]
    },
    "components": {
      "type": "array",
      "items": {"type": "object", "required": ["id", "componentId", "parameters"]}
    },
    "connections": {
      "type": "array",
      "items": {"type": "object", "required": ["id", "from", "to", "operator"]}
    },
    "logic": {"type": "object", "required": ["expression", "dominantOperator"]}
  }
}`

const elasticSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {
      "type": "object",
      "required": ["bool"],
      "properties": {"bool": {"type": "object", "required": ["filter"]}}
    }
  }
}`

// Check verifies that rule text is well-formed for its format. It is a
// structural check, not a full grammar: JSON parses and matches the
// expected shape, XML has a matching signature root, YARA has a rule and a
// condition, Sigma parses with a detection condition, IDS rules carry a
// sid and close their option list.
func Check(rule *CompiledRule) error {
	if rule == nil || strings.TrimSpace(rule.Text) == "" {
		return fmt.Errorf("%w: empty output", ErrInvalidOutput)
	}
	var err error
	switch rule.Format {
	case FormatJSON:
		err = checkJSONSchema(rule.Text, structuredSchema)
	case FormatElastic:
		err = checkJSONSchema(rule.Text, elasticSchema)
	case FormatXML:
		err = checkXML(rule.Text)
	case FormatYARA:
		err = checkYARA(rule.Text)
	case FormatSigma:
		err = checkSigma(rule.Text)
	case FormatSnort, FormatSuricata:
		err = checkIDS(rule.Text)
	case FormatSplunk:
		if !strings.HasPrefix(rule.Text, "search ") || !strings.Contains(rule.Text, "earliest=") {
			err = errors.New("missing search command or time bound")
		}
	default:
		err = fmt.Errorf("unknown format %q", rule.Format)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOutput, rule.Format, err)
	}
	return nil
}

func checkJSONSchema(text, schema string) error {
	if !json.Valid([]byte(text)) {
		return errors.New("output is not valid JSON")
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(text),
	)
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}

func checkXML(text string) error {
	dec := xml.NewDecoder(strings.NewReader(text))
	depth := 0
	root := ""
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				if root != "" {
					return errors.New("multiple root elements")
				}
				root = t.Name.Local
			}
			depth++
		case xml.EndElement:
			depth--
		}
	}
	if root != "signature" {
		return fmt.Errorf("root element is %q, want signature", root)
	}
	if depth != 0 {
		return errors.New("unbalanced elements")
	}
	return nil
}

func checkYARA(text string) error {
	if !strings.HasPrefix(strings.TrimSpace(text), "rule ") {
		return errors.New("missing rule keyword")
	}
	if !strings.Contains(text, "condition:") {
		return errors.New("missing condition section")
	}
	if !strings.HasSuffix(strings.TrimSpace(text), "}") {
		return errors.New("rule body is not closed")
	}
	return checkYARAStrings(text)
}

var yaraStringID = regexp.MustCompile(`\$[A-Za-z0-9_]+`)

// checkYARAStrings rejects a rule that declares a string its condition
// never uses. YARA refuses to compile such rules.
func checkYARAStrings(text string) error {
	body := strings.TrimSpace(text)
	condAt := strings.LastIndex(body, "condition:")
	cond := strings.TrimSuffix(strings.TrimSpace(body[condAt+len("condition:"):]), "}")
	if strings.Contains(cond, "them") {
		return nil
	}

	used := make(map[string]bool)
	for _, id := range yaraStringID.FindAllString(cond, -1) {
		used[id] = true
	}
	strAt := strings.Index(body, "strings:")
	if strAt < 0 || strAt > condAt {
		return nil
	}
	for _, line := range strings.Split(body[strAt:condAt], "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		id, _, _ := strings.Cut(line, " ")
		if !used[id] {
			return fmt.Errorf("string %s is not referenced by the condition", id)
		}
	}
	return nil
}

func checkSigma(text string) error {
	var doc struct {
		Title     string         `yaml:"title"`
		LogSource map[string]any `yaml:"logsource"`
		Detection map[string]any `yaml:"detection"`
	}
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return err
	}
	if doc.Title == "" {
		return errors.New("missing title")
	}
	if len(doc.LogSource) == 0 {
		return errors.New("missing logsource")
	}
	if _, ok := doc.Detection["condition"]; !ok {
		return errors.New("missing detection condition")
	}
	return nil
}

func checkIDS(text string) error {
	open := strings.Index(text, "(")
	if open < 0 || !strings.HasSuffix(strings.TrimSpace(text), ";)") {
		return errors.New("option list is not closed")
	}
	if header := strings.Fields(text[:open]); len(header) != 7 {
		return fmt.Errorf("header has %d fields, want 7", len(header))
	}
	if !strings.Contains(text, "sid:") {
		return errors.New("missing sid")
	}
	return nil
}
