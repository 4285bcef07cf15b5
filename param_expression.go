package mybatis

import "strings"

// paramExpression is the parsed form of an inline #{...} parameter
// expression (spec §4.E): #{prop, javaType=X, jdbcType=Y, ...}.
type paramExpression struct {
	Property     string
	Expression   string // set instead of Property when the source used "(...)"
	JavaType     string
	JdbcType     string
	JdbcTypeName string
	Mode         string
	NumericScale string
	ResultMap    string
	TypeHandler  string
}

var recognizedParamAttrs = map[string]bool{
	"javatype": true, "jdbctype": true, "mode": true, "numericscale": true,
	"resultmap": true, "typehandler": true, "jdbctypename": true,
	"property": true, "expression": true,
}

// parseParamExpression implements the §4.E grammar:
//
//	inline = (property | '(' expression ')') (':' jdbcType)? (',' key '=' value)*
//
// Parsing is position-oriented: a leading '(' switches to balanced-paren
// expression capture; otherwise a property path is read up to ',' or ':';
// a bare ':' introduces the legacy jdbcType-only form.
func parseParamExpression(src string) (*paramExpression, error) {
	src = strings.TrimSpace(src)
	pe := &paramExpression{}
	pos := 0
	n := len(src)

	skipSpace := func() {
		for pos < n && src[pos] == ' ' {
			pos++
		}
	}
	skipSpace()

	if pos < n && src[pos] == '(' {
		depth := 0
		start := pos
		for pos < n {
			switch src[pos] {
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					pos++
					goto doneExpr
				}
			}
			pos++
		}
		return nil, newParseError("unbalanced parentheses in parameter expression %q", src)
	doneExpr:
		pe.Expression = strings.TrimSpace(src[start+1 : pos-1])
	} else {
		start := pos
		for pos < n && src[pos] != ',' && src[pos] != ':' {
			pos++
		}
		pe.Property = strings.TrimSpace(src[start:pos])
		if pe.Property == "" {
			return nil, newParseError("empty property in parameter expression %q", src)
		}
	}

	skipSpace()
	if pos < n && src[pos] == ':' {
		pos++
		skipSpace()
		start := pos
		for pos < n && src[pos] != ',' {
			pos++
		}
		pe.JdbcType = strings.TrimSpace(src[start:pos])
	}

	for pos < n {
		skipSpace()
		if pos >= n || src[pos] != ',' {
			return nil, newParseError("expected ',' in parameter expression %q at position %d", src, pos)
		}
		pos++
		skipSpace()
		eq := strings.IndexByte(src[pos:], '=')
		if eq < 0 {
			return nil, newParseError("expected 'name=value' attribute in parameter expression %q", src)
		}
		key := strings.ToLower(strings.TrimSpace(src[pos : pos+eq]))
		pos += eq + 1
		valStart := pos
		for pos < n && src[pos] != ',' {
			pos++
		}
		value := strings.TrimSpace(src[valStart:pos])

		if !recognizedParamAttrs[key] {
			return nil, newParseError("unrecognized parameter attribute %q in %q", key, src)
		}
		switch key {
		case "javatype":
			pe.JavaType = value
		case "jdbctype":
			pe.JdbcType = value
		case "jdbctypename":
			pe.JdbcTypeName = value
		case "mode":
			pe.Mode = value
		case "numericscale":
			pe.NumericScale = value
		case "resultmap":
			pe.ResultMap = value
		case "typehandler":
			pe.TypeHandler = value
		case "property":
			pe.Property = value
		case "expression":
			return nil, newParseError("expression= is not a supported feature in parameter attributes")
		}
	}
	return pe, nil
}
