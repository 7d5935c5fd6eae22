package sql

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotSelect is returned for statements that are not SELECT queries.
var ErrNotSelect = errors.New("not a SELECT statement")

// ParsedJoin is an equi-join recovered from a query, with aliases resolved to table names.
// LeftTable is the side that appeared earlier in the FROM clause.
type ParsedJoin struct {
	LeftTable    string
	RightTable   string
	LeftColumns  []string
	RightColumns []string
	JoinType     string // "INNER", "LEFT", "RIGHT", "FULL", "CROSS"
}

// ParsedReference is a table-qualified column reference found anywhere in the query.
type ParsedReference struct {
	Table  string
	Column string
}

// ParsedQuery is what ParseQuery recovers from one report query.
type ParsedQuery struct {
	Tables     []string          // Tables in FROM/JOIN order, deduplicated
	Aliases    map[string]string // lower-case alias -> table name
	Joins      []ParsedJoin
	References []ParsedReference
}

var (
	lineCommentPattern  = regexp.MustCompile(`--[^\n]*`)
	blockCommentPattern = regexp.MustCompile(`(?s)/\*.*?\*/`)
	stringLitPattern    = regexp.MustCompile(`'(?:[^']|'')*'`)

	// Identifiers (optionally quoted and dot-qualified), or any single non-space rune
	tokenPattern = regexp.MustCompile("(?:`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[A-Za-z_#@][\\w$#@]*)(?:\\.(?:`[^`]+`|\"[^\"]+\"|\\[[^\\]]+\\]|[A-Za-z_#@][\\w$#@]*|\\*))*|\\d+(?:\\.\\d+)?|<>|!=|<=|>=|\\S")
)

// Keywords that end a table reference or a join condition.
var clauseKeywords = map[string]bool{
	"where": true, "group": true, "order": true, "having": true, "limit": true,
	"union": true, "intersect": true, "except": true, "on": true, "using": true,
	"join": true, "inner": true, "left": true, "right": true, "full": true,
	"cross": true, "outer": true, "natural": true, "select": true, "from": true,
	"window": true, "qualify": true, "fetch": true, "offset": true, "with": true,
}

// ParseQuery extracts tables, aliases, equi-joins and qualified column references
// from a SELECT statement.
// It handles:
//   - Explicit joins: FROM a x JOIN b y ON x.id = y.a_id AND x.k = y.k
//   - USING clauses: JOIN b USING (id)
//   - Implicit joins: FROM a, b WHERE a.id = b.a_id
//   - Quoted and schema-qualified names: [dbo].[Orders], "Orders", `orders`
//
// Limitations:
//   - Derived tables and CTE names are not resolved to base tables
//   - Non-equality join predicates are ignored
//   - Assumes well-formed SQL
func ParseQuery(sql string) (*ParsedQuery, error) {
	tokens := tokenize(sql)
	if len(tokens) == 0 {
		return nil, ErrNotSelect
	}
	first := strings.ToLower(tokens[0])
	if first != "select" && first != "with" && first != "(" {
		return nil, ErrNotSelect
	}

	p := &queryParser{
		tokens: tokens,
		result: &ParsedQuery{Aliases: make(map[string]string)},
		seen:   make(map[string]bool),
	}
	p.parse()
	p.collectReferences()

	return p.result, nil
}

// tokenize strips comments and string literals and splits the statement into tokens.
func tokenize(sql string) []string {
	sql = blockCommentPattern.ReplaceAllString(sql, " ")
	sql = lineCommentPattern.ReplaceAllString(sql, " ")
	sql = stringLitPattern.ReplaceAllString(sql, "''")
	return tokenPattern.FindAllString(sql, -1)
}

type queryParser struct {
	tokens []string
	pos    int
	result *ParsedQuery
	seen   map[string]bool
}

type pendingCondition struct {
	joinedTable string
	joinType    string
	tokens      []string
}

func (p *queryParser) peek(offset int) string {
	if p.pos+offset < len(p.tokens) {
		return strings.ToLower(p.tokens[p.pos+offset])
	}
	return ""
}

func (p *queryParser) parse() {
	var conditions []pendingCondition

	for p.pos < len(p.tokens) {
		switch p.peek(0) {
		case "from":
			p.pos++
			p.parseTableList()
		case "join", "inner", "left", "right", "full", "cross", "natural":
			joinType, ok := p.parseJoinKeywords()
			if !ok {
				p.pos++
				continue
			}
			table := p.parseTableRef()
			switch p.peek(0) {
			case "on":
				p.pos++
				conditions = append(conditions, pendingCondition{
					joinedTable: table,
					joinType:    joinType,
					tokens:      p.collectCondition(),
				})
			case "using":
				p.pos++
				p.parseUsing(table, joinType)
			}
		case "where":
			p.pos++
			conditions = append(conditions, pendingCondition{
				joinType: "INNER",
				tokens:   p.collectCondition(),
			})
		default:
			p.pos++
		}
	}

	// Conditions are resolved after every alias in the statement is known
	for _, c := range conditions {
		p.resolveCondition(c)
	}
}

// parseJoinKeywords consumes "[NATURAL] [INNER|LEFT|RIGHT|FULL|CROSS] [OUTER] JOIN".
func (p *queryParser) parseJoinKeywords() (string, bool) {
	joinType := "INNER"
	for p.pos < len(p.tokens) {
		switch p.peek(0) {
		case "natural", "outer", "inner":
			p.pos++
		case "left":
			joinType = "LEFT"
			p.pos++
		case "right":
			joinType = "RIGHT"
			p.pos++
		case "full":
			joinType = "FULL"
			p.pos++
		case "cross":
			joinType = "CROSS"
			p.pos++
		case "join":
			p.pos++
			return joinType, true
		default:
			return "", false
		}
	}
	return "", false
}

// parseTableList parses comma-separated table references after FROM.
func (p *queryParser) parseTableList() {
	for {
		p.parseTableRef()
		if p.peek(0) != "," {
			return
		}
		p.pos++
	}
}

// parseTableRef parses "name [AS] [alias]" and registers the alias.
// Returns the table name, or "" for derived tables.
func (p *queryParser) parseTableRef() string {
	if p.peek(0) == "(" {
		p.skipParens()
		p.parseAlias()
		return ""
	}
	if p.pos >= len(p.tokens) {
		return ""
	}

	name := unquoteIdentifier(p.tokens[p.pos])
	p.pos++
	p.register(name, name)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		p.register(name[idx+1:], name)
	}

	if alias := p.parseAlias(); alias != "" {
		p.register(alias, name)
	}

	if !p.seen[name] {
		p.seen[name] = true
		p.result.Tables = append(p.result.Tables, name)
	}
	return name
}

func (p *queryParser) parseAlias() string {
	if p.peek(0) == "as" {
		p.pos++
	}
	tok := p.peek(0)
	if tok == "" || clauseKeywords[tok] || !isIdentifier(tok) {
		return ""
	}
	alias := unquoteIdentifier(p.tokens[p.pos])
	p.pos++
	return alias
}

func (p *queryParser) register(alias, table string) {
	p.result.Aliases[strings.ToLower(alias)] = table
}

func (p *queryParser) skipParens() {
	depth := 0
	for p.pos < len(p.tokens) {
		switch p.tokens[p.pos] {
		case "(":
			depth++
		case ")":
			depth--
		}
		p.pos++
		if depth == 0 {
			return
		}
	}
}

// collectCondition gathers tokens until the next clause keyword at parenthesis depth 0.
func (p *queryParser) collectCondition() []string {
	var cond []string
	depth := 0
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		lower := strings.ToLower(tok)
		if depth == 0 && (clauseKeywords[lower] && lower != "on" || tok == ";") {
			break
		}
		switch tok {
		case "(":
			depth++
		case ")":
			depth--
			if depth < 0 {
				return cond
			}
		}
		cond = append(cond, tok)
		p.pos++
	}
	return cond
}

// parseUsing handles "USING (a, b)" against the previously joined table.
func (p *queryParser) parseUsing(table, joinType string) {
	if p.peek(0) != "(" || len(p.result.Tables) < 2 || table == "" {
		return
	}
	p.pos++

	var cols []string
	for p.pos < len(p.tokens) && p.tokens[p.pos] != ")" {
		if p.tokens[p.pos] != "," {
			cols = append(cols, unquoteIdentifier(p.tokens[p.pos]))
		}
		p.pos++
	}
	p.pos++

	// The joined table is the last registered; USING binds it to the one before
	left := p.result.Tables[len(p.result.Tables)-2]
	if left == table || len(cols) == 0 {
		return
	}
	p.addJoin(left, table, cols, cols, joinType)
}

// resolveCondition extracts "x.a = y.b" equalities and groups them per table pair.
func (p *queryParser) resolveCondition(c pendingCondition) {
	type pairCols struct {
		left, right string
		leftCols    []string
		rightCols   []string
	}
	var pairs []*pairCols
	index := make(map[string]*pairCols)

	for i := 1; i+1 < len(c.tokens); i++ {
		if c.tokens[i] != "=" {
			continue
		}
		lt, lc, lok := p.resolveColumn(c.tokens[i-1])
		rt, rc, rok := p.resolveColumn(c.tokens[i+1])
		if !lok || !rok || lt == rt {
			continue
		}

		// Orient the pair so the joined table is on the right
		if lt == c.joinedTable || (c.joinedTable == "" && p.tableOrder(lt) > p.tableOrder(rt)) {
			lt, rt = rt, lt
			lc, rc = rc, lc
		}

		key := lt + "\x00" + rt
		pc, ok := index[key]
		if !ok {
			pc = &pairCols{left: lt, right: rt}
			index[key] = pc
			pairs = append(pairs, pc)
		}
		pc.leftCols = append(pc.leftCols, lc)
		pc.rightCols = append(pc.rightCols, rc)
	}

	for _, pc := range pairs {
		p.addJoin(pc.left, pc.right, pc.leftCols, pc.rightCols, c.joinType)
	}
}

func (p *queryParser) addJoin(left, right string, leftCols, rightCols []string, joinType string) {
	p.result.Joins = append(p.result.Joins, ParsedJoin{
		LeftTable:    left,
		RightTable:   right,
		LeftColumns:  leftCols,
		RightColumns: rightCols,
		JoinType:     joinType,
	})
}

func (p *queryParser) tableOrder(table string) int {
	for i, t := range p.result.Tables {
		if t == table {
			return i
		}
	}
	return len(p.result.Tables)
}

// resolveColumn splits "alias.column" and resolves the alias to a table name.
func (p *queryParser) resolveColumn(tok string) (string, string, bool) {
	parts := splitQualified(tok)
	if len(parts) < 2 {
		return "", "", false
	}
	qualifier := unquoteIdentifier(strings.Join(parts[:len(parts)-1], "."))
	column := unquoteIdentifier(parts[len(parts)-1])
	if qualifier == "" || column == "" || column == "*" {
		return "", "", false
	}
	table, ok := p.result.Aliases[strings.ToLower(qualifier)]
	if !ok {
		return "", "", false
	}
	return table, column, true
}

// collectReferences records every resolvable qualified column reference, in order of appearance.
func (p *queryParser) collectReferences() {
	seen := make(map[string]bool)
	for _, tok := range p.tokens {
		if !strings.Contains(tok, ".") {
			continue
		}
		table, column, ok := p.resolveColumn(tok)
		if !ok {
			continue
		}
		key := table + "." + column
		if seen[key] {
			continue
		}
		seen[key] = true
		p.result.References = append(p.result.References, ParsedReference{Table: table, Column: column})
	}
}

func isIdentifier(tok string) bool {
	if tok == "" {
		return false
	}
	switch tok[0] {
	case '`', '"', '[':
		return true
	}
	c := tok[0]
	return c == '_' || c == '#' || c == '@' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// unquoteIdentifier strips quoting from each dot-separated part:
// [dbo].[Orders] -> dbo.Orders, "Orders" -> Orders.
func unquoteIdentifier(ident string) string {
	parts := splitQualified(ident)
	for i, part := range parts {
		parts[i] = strings.Trim(part, "`\"[]")
	}
	return strings.Join(parts, ".")
}

// splitQualified splits on dots that are not inside quotes or brackets.
func splitQualified(ident string) []string {
	var parts []string
	var current strings.Builder
	var quote rune

	for _, ch := range ident {
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			}
			current.WriteRune(ch)
		case ch == '"' || ch == '`':
			quote = ch
			current.WriteRune(ch)
		case ch == '[':
			quote = ']'
			current.WriteRune(ch)
		case ch == '.':
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	parts = append(parts, current.String())
	return parts
}
