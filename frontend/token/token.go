// Package token defines the lexical token kinds for the engine's
// supplied frontend. The shape (an int-backed Kind with a precomputed
// name table, plus a Token carrying both position and raw text) mirrors
// core/types/types.go's TokenType/Token in the teacher.
package token

import "fmt"

type Kind int

const (
	ILLEGAL Kind = iota
	EOF

	IDENT
	NUMBER
	STRING
	TEMPLATE_STRING
	REGEX
	PRIVATE_NAME // #field

	// Punctuation
	LPAREN
	RPAREN
	LBRACE
	RBRACE
	LBRACKET
	RBRACKET
	COMMA
	SEMICOLON
	COLON
	DOT
	DOT_DOT_DOT // ...
	QUESTION
	QUESTION_DOT    // ?.
	QUESTION_QUESTION
	ARROW // =>

	// Assignment
	ASSIGN
	PLUS_ASSIGN
	MINUS_ASSIGN
	STAR_ASSIGN
	SLASH_ASSIGN
	PERCENT_ASSIGN
	STAR_STAR_ASSIGN
	AND_ASSIGN // &&=
	OR_ASSIGN  // ||=
	QQ_ASSIGN  // ??=
	AMP_ASSIGN
	PIPE_ASSIGN
	CARET_ASSIGN
	SHL_ASSIGN
	SHR_ASSIGN
	USHR_ASSIGN

	// Operators
	PLUS
	MINUS
	STAR
	SLASH
	PERCENT
	STAR_STAR
	INCREMENT
	DECREMENT
	EQ
	NOT_EQ
	STRICT_EQ
	STRICT_NOT_EQ
	LT
	LT_EQ
	GT
	GT_EQ
	AMP
	PIPE
	CARET
	TILDE
	SHL
	SHR
	USHR
	AND_AND
	OR_OR
	BANG

	// Keywords
	KW_VAR
	KW_LET
	KW_CONST
	KW_FUNCTION
	KW_RETURN
	KW_IF
	KW_ELSE
	KW_FOR
	KW_WHILE
	KW_DO
	KW_SWITCH
	KW_CASE
	KW_DEFAULT
	KW_BREAK
	KW_CONTINUE
	KW_TRY
	KW_CATCH
	KW_FINALLY
	KW_THROW
	KW_NEW
	KW_DELETE
	KW_TYPEOF
	KW_VOID
	KW_IN
	KW_OF
	KW_INSTANCEOF
	KW_THIS
	KW_SUPER
	KW_CLASS
	KW_EXTENDS
	KW_STATIC
	KW_GET
	KW_SET
	KW_YIELD
	KW_ASYNC
	KW_AWAIT
	KW_TRUE
	KW_FALSE
	KW_NULL
	KW_UNDEFINED
)

var names = map[Kind]string{
	ILLEGAL: "ILLEGAL", EOF: "EOF", IDENT: "IDENT", NUMBER: "NUMBER",
	STRING: "STRING", TEMPLATE_STRING: "TEMPLATE_STRING", REGEX: "REGEX",
	PRIVATE_NAME: "PRIVATE_NAME",
	LPAREN: "(", RPAREN: ")", LBRACE: "{", RBRACE: "}",
	LBRACKET: "[", RBRACKET: "]", COMMA: ",", SEMICOLON: ";",
	COLON: ":", DOT: ".", DOT_DOT_DOT: "...", QUESTION: "?",
	QUESTION_DOT: "?.", QUESTION_QUESTION: "??", ARROW: "=>",
	ASSIGN: "=", PLUS_ASSIGN: "+=", MINUS_ASSIGN: "-=", STAR_ASSIGN: "*=",
	SLASH_ASSIGN: "/=", PERCENT_ASSIGN: "%=", STAR_STAR_ASSIGN: "**=",
	AND_ASSIGN: "&&=", OR_ASSIGN: "||=", QQ_ASSIGN: "??=",
	AMP_ASSIGN: "&=", PIPE_ASSIGN: "|=", CARET_ASSIGN: "^=",
	SHL_ASSIGN: "<<=", SHR_ASSIGN: ">>=", USHR_ASSIGN: ">>>=",
	PLUS: "+", MINUS: "-", STAR: "*", SLASH: "/", PERCENT: "%",
	STAR_STAR: "**", INCREMENT: "++", DECREMENT: "--",
	EQ: "==", NOT_EQ: "!=", STRICT_EQ: "===", STRICT_NOT_EQ: "!==",
	LT: "<", LT_EQ: "<=", GT: ">", GT_EQ: ">=",
	AMP: "&", PIPE: "|", CARET: "^", TILDE: "~",
	SHL: "<<", SHR: ">>", USHR: ">>>", AND_AND: "&&", OR_OR: "||", BANG: "!",
	KW_VAR: "var", KW_LET: "let", KW_CONST: "const", KW_FUNCTION: "function",
	KW_RETURN: "return", KW_IF: "if", KW_ELSE: "else", KW_FOR: "for",
	KW_WHILE: "while", KW_DO: "do", KW_SWITCH: "switch", KW_CASE: "case",
	KW_DEFAULT: "default", KW_BREAK: "break", KW_CONTINUE: "continue",
	KW_TRY: "try", KW_CATCH: "catch", KW_FINALLY: "finally", KW_THROW: "throw",
	KW_NEW: "new", KW_DELETE: "delete", KW_TYPEOF: "typeof", KW_VOID: "void",
	KW_IN: "in", KW_OF: "of", KW_INSTANCEOF: "instanceof", KW_THIS: "this",
	KW_SUPER: "super", KW_CLASS: "class", KW_EXTENDS: "extends",
	KW_STATIC: "static", KW_GET: "get", KW_SET: "set", KW_YIELD: "yield",
	KW_ASYNC: "async", KW_AWAIT: "await", KW_TRUE: "true", KW_FALSE: "false",
	KW_NULL: "null", KW_UNDEFINED: "undefined",
}

func (k Kind) String() string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Keywords maps identifier text to its reserved-word kind.
var Keywords = map[string]Kind{
	"var": KW_VAR, "let": KW_LET, "const": KW_CONST, "function": KW_FUNCTION,
	"return": KW_RETURN, "if": KW_IF, "else": KW_ELSE, "for": KW_FOR,
	"while": KW_WHILE, "do": KW_DO, "switch": KW_SWITCH, "case": KW_CASE,
	"default": KW_DEFAULT, "break": KW_BREAK, "continue": KW_CONTINUE,
	"try": KW_TRY, "catch": KW_CATCH, "finally": KW_FINALLY, "throw": KW_THROW,
	"new": KW_NEW, "delete": KW_DELETE, "typeof": KW_TYPEOF, "void": KW_VOID,
	"in": KW_IN, "of": KW_OF, "instanceof": KW_INSTANCEOF, "this": KW_THIS,
	"super": KW_SUPER, "class": KW_CLASS, "extends": KW_EXTENDS,
	"static": KW_STATIC, "get": KW_GET, "set": KW_SET, "yield": KW_YIELD,
	"async": KW_ASYNC, "await": KW_AWAIT, "true": KW_TRUE, "false": KW_FALSE,
	"null": KW_NULL, "undefined": KW_UNDEFINED,
}

// Token is one lexeme with full position information.
type Token struct {
	Kind      Kind
	Value     string // literal text (identifier name, string contents, number text)
	Line      int
	Column    int
	EndLine   int
	EndColumn int
	Offset    int
}

// Position renders "line:col-col" or "line:col-line:col" for diagnostics.
func (t Token) Position() string {
	if t.Line == t.EndLine {
		return fmt.Sprintf("%d:%d-%d", t.Line, t.Column, t.EndColumn)
	}
	return fmt.Sprintf("%d:%d-%d:%d", t.Line, t.Column, t.EndLine, t.EndColumn)
}
