// Package cql parses the table DDL and INSERT template that declare the
// shape of the segments the writer produces.
package cql

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a lexical token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError
	TokenIdent
	TokenQuotedIdent
	TokenNumber
	TokenString

	// Keywords
	TokenCreate
	TokenTable
	TokenIf
	TokenNot
	TokenExists
	TokenPrimary
	TokenKey
	TokenWith
	TokenInsert
	TokenInto
	TokenValues
	TokenUsing

	// Punctuation
	TokenComma      // ,
	TokenLParen     // (
	TokenRParen     // )
	TokenDot        // .
	TokenSemicolon  // ;
	TokenBindMarker // ?
	TokenLt         // <
	TokenGt         // >
	TokenEq         // =
	TokenMinus      // -
	TokenLBrace     // {
	TokenRBrace     // }
	TokenColon      // :
)

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int // Position in input
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %q, %d}", t.Type.String(), t.Literal, t.Pos)
}

var tokenNames = map[TokenType]string{
	TokenEOF:         "EOF",
	TokenError:       "ERROR",
	TokenIdent:       "IDENT",
	TokenQuotedIdent: "QUOTED IDENT",
	TokenNumber:      "NUMBER",
	TokenString:      "STRING",
	TokenCreate:      "CREATE",
	TokenTable:       "TABLE",
	TokenIf:          "IF",
	TokenNot:         "NOT",
	TokenExists:      "EXISTS",
	TokenPrimary:     "PRIMARY",
	TokenKey:         "KEY",
	TokenWith:        "WITH",
	TokenInsert:      "INSERT",
	TokenInto:        "INTO",
	TokenValues:      "VALUES",
	TokenUsing:       "USING",
	TokenComma:       ",",
	TokenLParen:      "(",
	TokenRParen:      ")",
	TokenDot:         ".",
	TokenSemicolon:   ";",
	TokenBindMarker:  "?",
	TokenLt:          "<",
	TokenGt:          ">",
	TokenEq:          "=",
	TokenMinus:       "-",
	TokenLBrace:      "{",
	TokenRBrace:      "}",
	TokenColon:       ":",
}

// String returns the string representation of a TokenType.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// keywords maps reserved words to their token types. Type names such as
// "timestamp" are deliberately absent so they can be parsed as identifiers.
var keywords = map[string]TokenType{
	"CREATE":  TokenCreate,
	"TABLE":   TokenTable,
	"IF":      TokenIf,
	"NOT":     TokenNot,
	"EXISTS":  TokenExists,
	"PRIMARY": TokenPrimary,
	"KEY":     TokenKey,
	"WITH":    TokenWith,
	"INSERT":  TokenInsert,
	"INTO":    TokenInto,
	"VALUES":  TokenValues,
	"USING":   TokenUsing,
}

// Lexer tokenizes CQL input.
type Lexer struct {
	input   string
	pos     int  // Current position in input
	readPos int  // Reading position (after current char)
	ch      byte // Current character
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// skipWhitespace skips whitespace and -- line comments.
func (l *Lexer) skipWhitespace() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

// NextToken returns the next token from the input.
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()

	startPos := l.pos
	var tok Token

	switch l.ch {
	case ',':
		tok = Token{Type: TokenComma, Literal: ",", Pos: startPos}
	case '(':
		tok = Token{Type: TokenLParen, Literal: "(", Pos: startPos}
	case ')':
		tok = Token{Type: TokenRParen, Literal: ")", Pos: startPos}
	case '.':
		tok = Token{Type: TokenDot, Literal: ".", Pos: startPos}
	case ';':
		tok = Token{Type: TokenSemicolon, Literal: ";", Pos: startPos}
	case '?':
		tok = Token{Type: TokenBindMarker, Literal: "?", Pos: startPos}
	case '<':
		tok = Token{Type: TokenLt, Literal: "<", Pos: startPos}
	case '>':
		tok = Token{Type: TokenGt, Literal: ">", Pos: startPos}
	case '=':
		tok = Token{Type: TokenEq, Literal: "=", Pos: startPos}
	case '-':
		tok = Token{Type: TokenMinus, Literal: "-", Pos: startPos}
	case '{':
		tok = Token{Type: TokenLBrace, Literal: "{", Pos: startPos}
	case '}':
		tok = Token{Type: TokenRBrace, Literal: "}", Pos: startPos}
	case ':':
		tok = Token{Type: TokenColon, Literal: ":", Pos: startPos}
	case '\'':
		tok = l.readString()
	case '"':
		tok = l.readQuotedIdent()
	case 0:
		tok = Token{Type: TokenEOF, Literal: "", Pos: startPos}
	default:
		if isLetter(l.ch) || l.ch == '_' {
			return l.readIdentifier()
		} else if isDigit(l.ch) {
			return l.readNumber()
		}
		tok = Token{Type: TokenError, Literal: string(l.ch), Pos: startPos}
	}

	l.readChar()
	return tok
}

// readIdentifier reads an identifier or keyword. Unquoted identifiers are
// case-insensitive and are returned in lower case.
func (l *Lexer) readIdentifier() Token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	literal := l.input[start:l.pos]
	upper := strings.ToUpper(literal)

	if tokType, ok := keywords[upper]; ok {
		return Token{Type: tokType, Literal: upper, Pos: start}
	}
	return Token{Type: TokenIdent, Literal: strings.ToLower(literal), Pos: start}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start}
}

// readString reads a single-quoted literal; '' is an escaped quote.
func (l *Lexer) readString() Token {
	startPos := l.pos
	var sb strings.Builder
	l.readChar()
	for {
		if l.ch == 0 {
			return Token{Type: TokenError, Literal: "unterminated string", Pos: startPos}
		}
		if l.ch == '\'' {
			if l.peekChar() != '\'' {
				break
			}
			l.readChar()
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	return Token{Type: TokenString, Literal: sb.String(), Pos: startPos}
}

// readQuotedIdent reads a double-quoted, case-sensitive identifier; "" is an
// escaped quote.
func (l *Lexer) readQuotedIdent() Token {
	startPos := l.pos
	var sb strings.Builder
	l.readChar()
	for {
		if l.ch == 0 {
			return Token{Type: TokenError, Literal: "unterminated quoted identifier", Pos: startPos}
		}
		if l.ch == '"' {
			if l.peekChar() != '"' {
				break
			}
			l.readChar()
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
	if sb.Len() == 0 {
		return Token{Type: TokenError, Literal: "empty quoted identifier", Pos: startPos}
	}
	return Token{Type: TokenQuotedIdent, Literal: sb.String(), Pos: startPos}
}

// Tokenize returns all tokens from the input.
func (l *Lexer) Tokenize() []Token {
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
