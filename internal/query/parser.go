package query

import (
	"fmt"
	"strconv"
	"strings"

	strataerrors "github.com/stratadb/strata/internal/errors"
	"github.com/stratadb/strata/pkg/types"
)

// ParseFilter parses a conjunction of simple column predicates:
//
//	col = 1 AND name <> 'x' AND score BETWEEN 1.5 AND 3 AND note IS NOT NULL AND id IN (1, 2)
//
// An empty expression yields no predicates and matches every row.
func ParseFilter(expr string) ([]Predicate, error) {
	p := &parser{lexer: NewLexer(expr), input: expr}
	p.next()
	if p.cur.Type == TokenEOF {
		return nil, nil
	}

	var preds []Predicate
	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
		if p.cur.Type != TokenAnd {
			break
		}
		p.next()
	}
	if p.cur.Type != TokenEOF {
		return nil, p.errorf("unexpected %s", p.cur.Type)
	}
	return preds, nil
}

type parser struct {
	lexer *Lexer
	input string
	cur   Token
}

func (p *parser) next() {
	p.cur = p.lexer.NextToken()
}

func (p *parser) errorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if p.cur.Type == TokenError {
		msg = fmt.Sprintf("invalid input %q", p.cur.Literal)
	}
	return strataerrors.NewValidationError(strataerrors.CodeInvalidFilter,
		fmt.Sprintf("filter %q at offset %d: %s", p.input, p.cur.Pos, msg))
}

func (p *parser) expect(t TokenType) error {
	if p.cur.Type != t {
		return p.errorf("expected %s, found %s", t, p.cur.Type)
	}
	p.next()
	return nil
}

func (p *parser) parsePredicate() (Predicate, error) {
	if p.cur.Type != TokenIdent {
		return Predicate{}, p.errorf("expected column name, found %s", p.cur.Type)
	}
	pred := Predicate{Column: p.cur.Literal}
	p.next()

	switch p.cur.Type {
	case TokenEq, TokenNe, TokenLt, TokenLe, TokenGt, TokenGe:
		pred.Op = comparisonOps[p.cur.Type]
		p.next()
		v, err := p.parseLiteral()
		if err != nil {
			return Predicate{}, err
		}
		pred.Values = []types.Value{v}

	case TokenBetween:
		p.next()
		low, err := p.parseLiteral()
		if err != nil {
			return Predicate{}, err
		}
		if err := p.expect(TokenAnd); err != nil {
			return Predicate{}, err
		}
		high, err := p.parseLiteral()
		if err != nil {
			return Predicate{}, err
		}
		pred.Op = OpBetween
		pred.Values = []types.Value{low, high}

	case TokenIs:
		p.next()
		pred.Op = OpIsNull
		if p.cur.Type == TokenNot {
			pred.Op = OpIsNotNull
			p.next()
		}
		if err := p.expect(TokenNull); err != nil {
			return Predicate{}, err
		}

	case TokenIn:
		p.next()
		if err := p.expect(TokenLParen); err != nil {
			return Predicate{}, err
		}
		pred.Op = OpIn
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return Predicate{}, err
			}
			pred.Values = append(pred.Values, v)
			if p.cur.Type != TokenComma {
				break
			}
			p.next()
		}
		if err := p.expect(TokenRParen); err != nil {
			return Predicate{}, err
		}

	default:
		return Predicate{}, p.errorf("expected operator after %s, found %s", pred.Column, p.cur.Type)
	}
	return pred, nil
}

var comparisonOps = map[TokenType]Op{
	TokenEq: OpEq,
	TokenNe: OpNe,
	TokenLt: OpLt,
	TokenLe: OpLe,
	TokenGt: OpGt,
	TokenGe: OpGe,
}

func (p *parser) parseLiteral() (types.Value, error) {
	switch p.cur.Type {
	case TokenNull:
		p.next()
		return types.Null(), nil
	case TokenString:
		v := types.Text(p.cur.Literal)
		p.next()
		return v, nil
	case TokenMinus:
		p.next()
		if p.cur.Type != TokenNumber {
			return types.Null(), p.errorf("expected number after '-', found %s", p.cur.Type)
		}
		return p.parseNumber(true)
	case TokenNumber:
		return p.parseNumber(false)
	}
	return types.Null(), p.errorf("expected literal, found %s", p.cur.Type)
}

func (p *parser) parseNumber(negative bool) (types.Value, error) {
	lit := p.cur.Literal
	if negative {
		lit = "-" + lit
	}
	if !strings.ContainsAny(lit, ".eE") {
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			p.next()
			return types.Integer(i), nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return types.Null(), p.errorf("invalid number %s", lit)
	}
	p.next()
	return types.Real(f), nil
}
