package searchdb

import (
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/search/query"
)

// toBleveQueryString rewrites the boolean connectors of the Lucene query-string
// syntax into bleve's prefix form. Whitespace separated clauses are already
// optional (disjunctive) in bleve, so OR is dropped, AND marks both of its
// neighbours as required and NOT marks the following clause as prohibited.
// Quoted phrases are kept intact.
func toBleveQueryString(queryString string) string {
	clauses := make([]string, 0)
	requireNext, prohibitNext := false, false

	for _, token := range splitClauses(queryString) {
		switch token {
		case "OR", "||":
			continue
		case "AND", "&&":
			if n := len(clauses); n > 0 {
				clauses[n-1] = withOccurrence(clauses[n-1], '+')
			}
			requireNext = true
			continue
		case "NOT", "!":
			prohibitNext = true
			continue
		}

		switch {
		case prohibitNext:
			token = withOccurrence(token, '-')
		case requireNext:
			token = withOccurrence(token, '+')
		}
		requireNext, prohibitNext = false, false

		clauses = append(clauses, token)
	}

	return strings.Join(clauses, " ")
}

// splitClauses splits on whitespace outside of double quotes. A backslash
// escapes the next character.
func splitClauses(queryString string) []string {
	var (
		clauses []string
		current strings.Builder
		inQuote bool
		escaped bool
	)

	flush := func() {
		if current.Len() > 0 {
			clauses = append(clauses, current.String())
			current.Reset()
		}
	}

	for _, r := range queryString {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case unicode.IsSpace(r) && !inQuote:
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()

	return clauses
}

func withOccurrence(clause string, occurrence byte) string {
	if len(clause) > 0 && (clause[0] == '+' || clause[0] == '-') {
		return clause
	}
	return string(occurrence) + clause
}

func isMatchAll(queryString string) bool {
	trimmed := strings.TrimSpace(queryString)
	return trimmed == "*" || trimmed == "*:*"
}

type occurrence int

const (
	occurShould occurrence = iota
	occurMust
	occurMustNot
)

type groupedClause struct {
	occur occurrence
	query query.Query
}

// groupParser builds a boolean query from a query string with parenthesised
// groups, which bleve's own query string syntax cannot express. Each clause
// outside a group is handed to bleve's query string parser on its own.
type groupParser struct {
	tokens []string
	pos    int
}

func hasGroups(tokens []string) bool {
	for _, token := range tokens {
		if token == "(" || token == ")" {
			return true
		}
	}
	return false
}

func (p *groupParser) parse() (query.Query, error) {
	parsed, err := p.parseGroup(0)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, queryParsingError("unbalanced ')'")
	}
	return parsed, nil
}

func (p *groupParser) parseGroup(depth int) (query.Query, error) {
	var clauses []groupedClause
	requireNext, prohibitNext := false, false
	explicit := occurShould

	for p.pos < len(p.tokens) {
		token := p.tokens[p.pos]
		p.pos++

		switch token {
		case "OR", "||":
			continue
		case "AND", "&&":
			if n := len(clauses); n > 0 && clauses[n-1].occur == occurShould {
				clauses[n-1].occur = occurMust
			}
			requireNext = true
			continue
		case "NOT", "!":
			prohibitNext = true
			continue
		case "+":
			explicit = occurMust
			continue
		case "-":
			explicit = occurMustNot
			continue
		case ")":
			if depth == 0 {
				return nil, queryParsingError("unbalanced ')'")
			}
			return combineClauses(clauses)
		}

		occur := explicit
		var clause query.Query
		if token == "(" {
			group, err := p.parseGroup(depth + 1)
			if err != nil {
				return nil, err
			}
			clause = group
		} else {
			switch token[0] {
			case '+':
				occur, token = occurMust, token[1:]
			case '-':
				occur, token = occurMustNot, token[1:]
			}
			clause = query.NewQueryStringQuery(token)
		}

		switch {
		case prohibitNext:
			occur = occurMustNot
		case requireNext && occur == occurShould:
			occur = occurMust
		}
		requireNext, prohibitNext, explicit = false, false, occurShould

		clauses = append(clauses, groupedClause{occur: occur, query: clause})
	}

	if depth > 0 {
		return nil, queryParsingError("missing ')'")
	}
	return combineClauses(clauses)
}

func combineClauses(clauses []groupedClause) (query.Query, error) {
	if len(clauses) == 0 {
		return nil, queryParsingError("empty group")
	}
	if len(clauses) == 1 && clauses[0].occur != occurMustNot {
		return clauses[0].query, nil
	}

	var must, should, mustNot []query.Query
	for _, clause := range clauses {
		switch clause.occur {
		case occurMust:
			must = append(must, clause.query)
		case occurMustNot:
			mustNot = append(mustNot, clause.query)
		default:
			should = append(should, clause.query)
		}
	}

	return query.NewBooleanQuery(must, should, mustNot), nil
}

// splitGroupedClauses is splitClauses with '(' and ')' outside quotes as
// tokens of their own. A group may only follow whitespace or an occurrence
// prefix, field scoped groups such as title:(a b) are rejected.
func splitGroupedClauses(queryString string) ([]string, error) {
	var (
		clauses []string
		current strings.Builder
		inQuote bool
		escaped bool
	)

	flush := func() {
		if current.Len() > 0 {
			clauses = append(clauses, current.String())
			current.Reset()
		}
	}

	for _, r := range queryString {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '(':
			if prefix := current.String(); len(prefix) > 0 && prefix != "+" && prefix != "-" {
				return nil, queryParsingError("grouping is not supported after " + prefix)
			}
			flush()
			clauses = append(clauses, "(")
			continue
		case r == ')':
			flush()
			clauses = append(clauses, ")")
			continue
		case unicode.IsSpace(r):
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()

	return clauses, nil
}

func queryParsingError(reason string) *EngineError {
	return &EngineError{
		StatusCode: 400,
		Type:       "query_parsing_exception",
		Reason:     reason,
	}
}
