package builtin

import (
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// countNodes returns the number of syntax tree nodes in a Lua chunk, or an
// error when the chunk does not parse.
func countNodes(code string) (int, error) {
	chunk, err := parse.Parse(strings.NewReader(code), "<code>")
	if err != nil {
		return 0, err
	}
	return 1 + countStmts(chunk), nil
}

func countStmts(stmts []ast.Stmt) int {
	n := 0
	for _, s := range stmts {
		n += countStmt(s)
	}
	return n
}

func countExprs(exprs []ast.Expr) int {
	n := 0
	for _, e := range exprs {
		n += countExpr(e)
	}
	return n
}

func countStmt(s ast.Stmt) int {
	switch st := s.(type) {
	case nil:
		return 0
	case *ast.AssignStmt:
		return 1 + countExprs(st.Lhs) + countExprs(st.Rhs)
	case *ast.LocalAssignStmt:
		return 1 + len(st.Names) + countExprs(st.Exprs)
	case *ast.FuncCallStmt:
		return 1 + countExpr(st.Expr)
	case *ast.DoBlockStmt:
		return 1 + countStmts(st.Stmts)
	case *ast.WhileStmt:
		return 1 + countExpr(st.Condition) + countStmts(st.Stmts)
	case *ast.RepeatStmt:
		return 1 + countExpr(st.Condition) + countStmts(st.Stmts)
	case *ast.IfStmt:
		return 1 + countExpr(st.Condition) + countStmts(st.Then) + countStmts(st.Else)
	case *ast.NumberForStmt:
		return 2 + countExpr(st.Init) + countExpr(st.Limit) + countExpr(st.Step) + countStmts(st.Stmts)
	case *ast.GenericForStmt:
		return 1 + len(st.Names) + countExprs(st.Exprs) + countStmts(st.Stmts)
	case *ast.FuncDefStmt:
		if st.Func == nil {
			return 1
		}
		return 1 + countExpr(st.Func)
	case *ast.ReturnStmt:
		return 1 + countExprs(st.Exprs)
	default:
		return 1
	}
}

func countExpr(e ast.Expr) int {
	switch ex := e.(type) {
	case nil:
		return 0
	case *ast.AttrGetExpr:
		return 1 + countExpr(ex.Object) + countExpr(ex.Key)
	case *ast.TableExpr:
		n := 1
		for _, f := range ex.Fields {
			n += countExpr(f.Key) + countExpr(f.Value)
		}
		return n
	case *ast.FuncCallExpr:
		return 1 + countExpr(ex.Func) + countExpr(ex.Receiver) + countExprs(ex.Args)
	case *ast.LogicalOpExpr:
		return 1 + countExpr(ex.Lhs) + countExpr(ex.Rhs)
	case *ast.RelationalOpExpr:
		return 1 + countExpr(ex.Lhs) + countExpr(ex.Rhs)
	case *ast.StringConcatOpExpr:
		return 1 + countExpr(ex.Lhs) + countExpr(ex.Rhs)
	case *ast.ArithmeticOpExpr:
		return 1 + countExpr(ex.Lhs) + countExpr(ex.Rhs)
	case *ast.UnaryMinusOpExpr:
		return 1 + countExpr(ex.Expr)
	case *ast.UnaryNotOpExpr:
		return 1 + countExpr(ex.Expr)
	case *ast.UnaryLenOpExpr:
		return 1 + countExpr(ex.Expr)
	case *ast.FunctionExpr:
		n := 1 + countStmts(ex.Stmts)
		if ex.ParList != nil {
			n += len(ex.ParList.Names)
		}
		return n
	default:
		return 1
	}
}
