package rule

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"printforge/internal/pkg/config"
	"printforge/internal/service/order/domain"
)

// CELSizePolicy 是 port.SizePolicy 的实现。
// 尺寸表来自配置，是否为大尺寸由一个 CEL 表达式判断，
// 可用变量为 code、width_cm、height_cm、long_edge_cm。
type CELSizePolicy struct {
	sizes map[string]domain.PrintSize
}

// NewCELSizePolicy 编译表达式并对每个尺寸预先求值，表达式有误时返回错误
func NewCELSizePolicy(premiumRule string, specs []config.SizeSpec) (*CELSizePolicy, error) {
	env, err := cel.NewEnv(
		cel.Variable("code", cel.StringType),
		cel.Variable("width_cm", cel.DoubleType),
		cel.Variable("height_cm", cel.DoubleType),
		cel.Variable("long_edge_cm", cel.DoubleType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}

	var prg cel.Program
	if premiumRule != "" {
		ast, iss := env.Compile(premiumRule)
		if iss.Err() != nil {
			return nil, errors.Wrapf(iss.Err(), "compile premium rule %q", premiumRule)
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("premium rule %q must evaluate to bool, got %v", premiumRule, ast.OutputType())
		}
		prg, err = env.Program(ast)
		if err != nil {
			return nil, errors.Wrap(err, "build cel program")
		}
	}

	p := &CELSizePolicy{sizes: make(map[string]domain.PrintSize, len(specs))}
	for _, s := range specs {
		size := domain.PrintSize{Code: s.Code, WidthCM: s.WidthCM, HeightCM: s.HeightCM}
		if prg != nil {
			out, _, err := prg.Eval(map[string]any{
				"code":         size.Code,
				"width_cm":     size.WidthCM,
				"height_cm":    size.HeightCM,
				"long_edge_cm": size.LongEdgeCM(),
			})
			if err != nil {
				return nil, errors.Wrapf(err, "evaluate premium rule for %s", s.Code)
			}
			premium, ok := out.Value().(bool)
			if !ok {
				return nil, fmt.Errorf("premium rule returned %T for %s", out.Value(), s.Code)
			}
			size.Premium = premium
		}
		p.sizes[s.Code] = size
	}
	return p, nil
}

// Resolve 实现 port.SizePolicy
func (p *CELSizePolicy) Resolve(code string) (domain.PrintSize, error) {
	size, ok := p.sizes[code]
	if !ok {
		return domain.PrintSize{}, fmt.Errorf("%w: %s", domain.ErrUnknownSize, code)
	}
	return size, nil
}
