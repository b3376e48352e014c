package cql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkilian/csvbulkload/pkg/types"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %q)", e.Position, e.Message, e.Token.Literal)
}

// CreateTableStatement is a parsed CREATE TABLE.
type CreateTableStatement struct {
	IfNotExists bool
	Schema      types.TableSchema

	// Options holds WITH properties as raw text, keyed by lower-case name.
	Options map[string]string
}

// InsertStatement is a parsed INSERT template.
type InsertStatement struct {
	Keyspace string
	Table    string
	Columns  []string
	Markers  int

	// Timestamp is the USING TIMESTAMP value in microseconds, if present.
	Timestamp *int64
}

// Parser parses CQL statements.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// ParseCreateTable parses a CREATE TABLE statement.
func ParseCreateTable(ddl string) (*CreateTableStatement, error) {
	p := NewParser(ddl)
	stmt, err := p.parseCreateTable()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return stmt, nil
}

// ParseInsert parses an INSERT template whose values are all bind markers.
func ParseInsert(insert string) (*InsertStatement, error) {
	p := NewParser(insert)
	stmt, err := p.parseInsert()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peekToken.Type == t
}

// expectPeek advances if the peek token matches, otherwise returns an error.
func (p *Parser) expectPeek(t TokenType) error {
	if p.peekTokenIs(t) {
		p.nextToken()
		return nil
	}
	return p.errorAt(p.peekToken, fmt.Sprintf("expected %s", t.String()))
}

// expectCur checks the current token and advances past it.
func (p *Parser) expectCur(t TokenType) error {
	if !p.curTokenIs(t) {
		return p.errorAt(p.curToken, fmt.Sprintf("expected %s", t.String()))
	}
	p.nextToken()
	return nil
}

func (p *Parser) errorAt(tok Token, msg string) *ParseError {
	if tok.Type == TokenError {
		msg = msg + ": " + tok.Literal
	}
	return &ParseError{Message: msg, Position: tok.Pos, Token: tok}
}

// expectEnd accepts an optional trailing semicolon followed by EOF.
func (p *Parser) expectEnd() error {
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return p.errorAt(p.curToken, "unexpected trailing input")
	}
	return nil
}

// parseName reads a bare or quoted identifier at the current token.
func (p *Parser) parseName() (string, error) {
	switch p.curToken.Type {
	case TokenIdent, TokenQuotedIdent:
		name := p.curToken.Literal
		p.nextToken()
		return name, nil
	default:
		return "", p.errorAt(p.curToken, "expected identifier")
	}
}

// parseQualifiedName reads keyspace.table. The keyspace is mandatory.
func (p *Parser) parseQualifiedName() (string, string, error) {
	keyspace, err := p.parseName()
	if err != nil {
		return "", "", err
	}
	if !p.curTokenIs(TokenDot) {
		return "", "", p.errorAt(p.curToken, "table name must be qualified with a keyspace")
	}
	p.nextToken()
	table, err := p.parseName()
	if err != nil {
		return "", "", err
	}
	return keyspace, table, nil
}

func (p *Parser) parseCreateTable() (*CreateTableStatement, error) {
	if err := p.expectCur(TokenCreate); err != nil {
		return nil, err
	}
	if err := p.expectCur(TokenTable); err != nil {
		return nil, err
	}

	stmt := &CreateTableStatement{Options: make(map[string]string)}

	if p.curTokenIs(TokenIf) {
		if err := p.expectPeek(TokenNot); err != nil {
			return nil, err
		}
		if err := p.expectPeek(TokenExists); err != nil {
			return nil, err
		}
		p.nextToken()
		stmt.IfNotExists = true
	}

	keyspace, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt.Schema.Keyspace = keyspace
	stmt.Schema.Table = table

	if err := p.expectCur(TokenLParen); err != nil {
		return nil, err
	}

	var inlineKey []string
	var tableKey []string
	seen := make(map[string]bool)

	for {
		if p.curTokenIs(TokenPrimary) {
			if tableKey != nil {
				return nil, p.errorAt(p.curToken, "duplicate PRIMARY KEY declaration")
			}
			keyTok := p.curToken
			tableKey, err = p.parsePrimaryKeyClause()
			if err != nil {
				return nil, err
			}
			if len(tableKey) == 0 {
				return nil, p.errorAt(keyTok, "empty PRIMARY KEY")
			}
		} else {
			colTok := p.curToken
			col, isKey, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			if seen[col.Name] {
				return nil, p.errorAt(colTok, fmt.Sprintf("duplicate column %q", col.Name))
			}
			seen[col.Name] = true
			if isKey {
				if inlineKey != nil {
					return nil, p.errorAt(colTok, "duplicate PRIMARY KEY declaration")
				}
				inlineKey = []string{col.Name}
			}
			stmt.Schema.Columns = append(stmt.Schema.Columns, col)
		}

		if p.curTokenIs(TokenComma) {
			p.nextToken()
			// A trailing comma before ")" is tolerated.
			if p.curTokenIs(TokenRParen) {
				break
			}
			continue
		}
		break
	}

	if err := p.expectCur(TokenRParen); err != nil {
		return nil, err
	}

	if len(stmt.Schema.Columns) == 0 {
		return nil, p.errorAt(p.curToken, "table has no columns")
	}

	switch {
	case inlineKey != nil && tableKey != nil:
		return nil, p.errorAt(p.curToken, "PRIMARY KEY declared both inline and as a table constraint")
	case inlineKey != nil:
		stmt.Schema.PartitionKey = inlineKey
	case tableKey != nil:
		stmt.Schema.PartitionKey = tableKey
	default:
		return nil, p.errorAt(p.curToken, "missing PRIMARY KEY")
	}

	for _, name := range stmt.Schema.PartitionKey {
		found := false
		for i := range stmt.Schema.Columns {
			if stmt.Schema.Columns[i].Name == name {
				stmt.Schema.Columns[i].PrimaryKey = true
				found = true
			}
		}
		if !found {
			return nil, &ParseError{Message: fmt.Sprintf("primary key column %q is not defined", name), Position: p.curToken.Pos, Token: p.curToken}
		}
	}

	if p.curTokenIs(TokenWith) {
		p.nextToken()
		if err := p.parseTableOptions(stmt.Options); err != nil {
			return nil, err
		}
	}

	return stmt, nil
}

// parseColumnDef parses "name type [PRIMARY KEY]".
func (p *Parser) parseColumnDef() (types.ColumnDef, bool, error) {
	name, err := p.parseName()
	if err != nil {
		return types.ColumnDef{}, false, err
	}

	typeTok := p.curToken
	if typeTok.Type != TokenIdent {
		return types.ColumnDef{}, false, p.errorAt(typeTok, "expected column type")
	}
	p.nextToken()

	if p.curTokenIs(TokenLt) {
		return types.ColumnDef{}, false, p.errorAt(typeTok, fmt.Sprintf("collection type %q is not supported", typeTok.Literal))
	}
	colType := types.ColumnType(typeTok.Literal)
	if !types.KnownColumnTypes[colType] {
		return types.ColumnDef{}, false, p.errorAt(typeTok, fmt.Sprintf("unsupported column type %q", typeTok.Literal))
	}

	isKey := false
	if p.curTokenIs(TokenPrimary) {
		if err := p.expectPeek(TokenKey); err != nil {
			return types.ColumnDef{}, false, err
		}
		p.nextToken()
		isKey = true
	}

	return types.ColumnDef{Name: name, Type: colType}, isKey, nil
}

// parsePrimaryKeyClause parses "PRIMARY KEY (pk)" or "PRIMARY KEY ((pk1, pk2))".
// Clustering columns are rejected.
func (p *Parser) parsePrimaryKeyClause() ([]string, error) {
	if err := p.expectPeek(TokenKey); err != nil {
		return nil, err
	}
	if err := p.expectPeek(TokenLParen); err != nil {
		return nil, err
	}
	p.nextToken()

	var key []string
	if p.curTokenIs(TokenLParen) {
		p.nextToken()
		names, err := p.parseNameList()
		if err != nil {
			return nil, err
		}
		if err := p.expectCur(TokenRParen); err != nil {
			return nil, err
		}
		key = names
	} else {
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		key = []string{name}
	}

	if p.curTokenIs(TokenComma) {
		return nil, p.errorAt(p.peekToken, "clustering columns are not supported")
	}
	if err := p.expectCur(TokenRParen); err != nil {
		return nil, err
	}
	return key, nil
}

func (p *Parser) parseNameList() ([]string, error) {
	var names []string
	for {
		name, err := p.parseName()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if !p.curTokenIs(TokenComma) {
			return names, nil
		}
		p.nextToken()
	}
}

// parseTableOptions parses "opt = value [AND opt = value]...". Values are kept
// as raw text; map literals are captured up to the matching brace.
func (p *Parser) parseTableOptions(opts map[string]string) error {
	for {
		name, err := p.parseName()
		if err != nil {
			return err
		}
		if err := p.expectCur(TokenEq); err != nil {
			return err
		}
		value, err := p.parseOptionValue()
		if err != nil {
			return err
		}
		opts[strings.ToLower(name)] = value

		if p.curTokenIs(TokenIdent) && p.curToken.Literal == "and" {
			p.nextToken()
			continue
		}
		return nil
	}
}

func (p *Parser) parseOptionValue() (string, error) {
	switch p.curToken.Type {
	case TokenString, TokenNumber, TokenIdent, TokenQuotedIdent:
		v := p.curToken.Literal
		p.nextToken()
		return v, nil
	case TokenMinus:
		p.nextToken()
		if !p.curTokenIs(TokenNumber) {
			return "", p.errorAt(p.curToken, "expected number")
		}
		v := "-" + p.curToken.Literal
		p.nextToken()
		return v, nil
	case TokenLBrace:
		return p.parseMapLiteral()
	}
	return "", p.errorAt(p.curToken, "expected option value")
}

// parseMapLiteral consumes a {...} literal and returns its raw text.
func (p *Parser) parseMapLiteral() (string, error) {
	start := p.curToken.Pos
	depth := 0
	for {
		switch p.curToken.Type {
		case TokenLBrace:
			depth++
		case TokenRBrace:
			depth--
			if depth == 0 {
				end := p.curToken.Pos
				p.nextToken()
				return p.lexer.input[start : end+1], nil
			}
		case TokenEOF, TokenError:
			return "", p.errorAt(p.curToken, "unterminated map literal")
		}
		p.nextToken()
	}
}

func (p *Parser) parseInsert() (*InsertStatement, error) {
	if err := p.expectCur(TokenInsert); err != nil {
		return nil, err
	}
	if err := p.expectCur(TokenInto); err != nil {
		return nil, err
	}

	keyspace, table, err := p.parseQualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Keyspace: keyspace, Table: table}

	if err := p.expectCur(TokenLParen); err != nil {
		return nil, err
	}
	cols, err := p.parseNameList()
	if err != nil {
		return nil, err
	}
	stmt.Columns = cols
	if err := p.expectCur(TokenRParen); err != nil {
		return nil, err
	}

	if err := p.expectCur(TokenValues); err != nil {
		return nil, err
	}
	if err := p.expectCur(TokenLParen); err != nil {
		return nil, err
	}
	for {
		if !p.curTokenIs(TokenBindMarker) {
			return nil, p.errorAt(p.curToken, "only bind markers (?) are supported as values")
		}
		stmt.Markers++
		p.nextToken()
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	if err := p.expectCur(TokenRParen); err != nil {
		return nil, err
	}

	if p.curTokenIs(TokenUsing) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) || p.curToken.Literal != "timestamp" {
			return nil, p.errorAt(p.curToken, "expected TIMESTAMP")
		}
		p.nextToken()
		neg := false
		if p.curTokenIs(TokenMinus) {
			neg = true
			p.nextToken()
		}
		if !p.curTokenIs(TokenNumber) {
			return nil, p.errorAt(p.curToken, "expected timestamp value")
		}
		ts, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
		if err != nil {
			return nil, p.errorAt(p.curToken, "invalid timestamp value")
		}
		if neg {
			ts = -ts
		}
		stmt.Timestamp = &ts
		p.nextToken()
	}

	return stmt, nil
}
