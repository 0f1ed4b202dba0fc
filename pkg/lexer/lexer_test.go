package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextTokenPunctuationAndOperators(t *testing.T) {
	input := `let x = 1 + 2 * (3 - 4) / 5 % 6;
if x == 1 && x != 2 || !x { }
while x < 10 { x = x + 1; }
a.b.c = &x; *p = 1;
5 <= 6 >= 7 << 1 >> 1 ^ 1 | 1 & 1 ~1`

	l := New(input)
	var types []TokenType
	for {
		tok := l.NextToken()
		types = append(types, tok.Type)
		if tok.Type == TokenEOF {
			break
		}
	}
	require.Contains(t, types, TokenLet)
	require.Contains(t, types, TokenIf)
	require.Contains(t, types, TokenWhile)
	require.Contains(t, types, TokenAnd)
	require.Contains(t, types, TokenOr)
	require.Contains(t, types, TokenBang)
	require.Contains(t, types, TokenAmp)
	require.Contains(t, types, TokenStar)
	require.Contains(t, types, TokenShl)
	require.Contains(t, types, TokenShr)
	require.Contains(t, types, TokenCaret)
	require.Contains(t, types, TokenPipe)
	require.Contains(t, types, TokenTilde)
	require.Contains(t, types, TokenLessEq)
	require.Contains(t, types, TokenGreaterEq)
}

func TestNextTokenKeywords(t *testing.T) {
	l := New("fn return struct impl print true false null foo")
	want := []TokenType{
		TokenFn, TokenReturn, TokenStruct, TokenImpl, TokenPrint,
		TokenTrue, TokenFalse, TokenNull, TokenIdentifier, TokenEOF,
	}
	for _, w := range want {
		tok := l.NextToken()
		require.Equal(t, w, tok.Type)
	}
}

func TestStringEscapes(t *testing.T) {
	l := New(`"hello\nworld\t\"quoted\\"`)
	tok := l.NextToken()
	require.Equal(t, TokenString, tok.Type)
	require.Equal(t, "hello\nworld\t\"quoted\\", tok.Literal)
}

func TestNumberLiteral(t *testing.T) {
	l := New("42 3.14 0.5")
	for _, want := range []string{"42", "3.14", "0.5"} {
		tok := l.NextToken()
		require.Equal(t, TokenNumber, tok.Type)
		require.Equal(t, want, tok.Literal)
	}
}

func TestLineComment(t *testing.T) {
	l := New("let x = 1; // trailing comment\nlet y = 2;")
	var lets int
	for {
		tok := l.NextToken()
		if tok.Type == TokenEOF {
			break
		}
		if tok.Type == TokenLet {
			lets++
		}
	}
	require.Equal(t, 2, lets)
}

func TestIllegalTokenizeError(t *testing.T) {
	l := New("let x = @;")
	_, err := l.Tokenize()
	require.Error(t, err)
}
