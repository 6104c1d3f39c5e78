package graph

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphqls
var schemaSource string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})

var errMustNotBeNull = errors.New("must not be null")

// fieldResolver computes one field of obj. obj is nil on Query and Mutation.
type fieldResolver func(ctx context.Context, obj interface{}, args map[string]interface{}) (interface{}, error)

type executableSchema struct {
	schema    *ast.Schema
	resolvers map[string]map[string]fieldResolver
}

// NewExecutableSchema serves schema.graphqls from r. A field without a resolver reads the exported
// struct field of the same name from its parent object.
func NewExecutableSchema(r *Resolver) graphql.ExecutableSchema {
	return &executableSchema{schema: parsedSchema, resolvers: r.fieldResolvers()}
}

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

func (e *executableSchema) Complexity(typeName, field string, childComplexity int, args map[string]interface{}) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	rc := graphql.GetOperationContext(ctx)
	var root string
	switch rc.Operation.Operation {
	case ast.Query:
		root = "Query"
	case ast.Mutation:
		root = "Mutation"
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}

	ec := &executionContext{OperationContext: rc, executableSchema: e}
	first := true
	return func(ctx context.Context) *graphql.Response {
		if !first {
			return nil
		}
		first = false
		// top level mutation fields run one after the other
		data, _ := ec.executeObject(ctx, root, nil, rc.Operation.SelectionSet, root == "Mutation")
		var buf bytes.Buffer
		data.MarshalGQL(&buf)
		return &graphql.Response{Data: buf.Bytes()}
	}
}

type executionContext struct {
	*graphql.OperationContext
	*executableSchema
}

// executeObject resolves selSet on obj. The bool is false when a non-null field failed, in which
// case the whole object is null.
func (ec *executionContext) executeObject(ctx context.Context, typeName string, obj interface{}, selSet ast.SelectionSet, serial bool) (graphql.Marshaler, bool) {
	fields := graphql.CollectFields(ec.OperationContext, selSet, []string{typeName})
	out := &object{keys: make([]string, len(fields)), values: make([]graphql.Marshaler, len(fields))}
	valid := make([]bool, len(fields))

	run := func(i int) {
		defer func() {
			if r := recover(); r != nil {
				graphql.AddError(ctx, ec.Recover(ctx, r))
				out.values[i], valid[i] = graphql.Null, nullable(fields[i].Definition)
			}
		}()
		out.keys[i] = fields[i].Alias
		out.values[i], valid[i] = ec.executeField(ctx, typeName, obj, fields[i])
	}
	if serial || len(fields) < 2 {
		for i := range fields {
			run(i)
		}
	} else {
		var wg sync.WaitGroup
		for i := range fields {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	}

	for _, ok := range valid {
		if !ok {
			return graphql.Null, false
		}
	}
	return out, true
}

func (ec *executionContext) executeField(ctx context.Context, typeName string, obj interface{}, field graphql.CollectedField) (graphql.Marshaler, bool) {
	if field.Name == "__typename" {
		return graphql.MarshalString(typeName), true
	}

	resolver, isResolver := ec.resolvers[typeName][field.Name]
	fc := &graphql.FieldContext{
		Object:     typeName,
		Field:      field,
		Args:       field.ArgumentMap(ec.Variables),
		IsMethod:   isResolver,
		IsResolver: isResolver,
	}
	ctx = graphql.WithFieldContext(ctx, fc)
	if strings.HasPrefix(field.Name, "__") {
		graphql.AddError(ctx, fmt.Errorf("%w: introspection is disabled", models.ErrInvalidInput))
		return graphql.Null, nullable(field.Definition)
	}

	next := func(ctx context.Context) (interface{}, error) {
		if isResolver {
			return resolver(ctx, obj, fc.Args)
		}
		return structField(obj, field.Name)
	}
	var res interface{}
	var err error
	if ec.ResolverMiddleware != nil {
		res, err = ec.ResolverMiddleware(ctx, next)
	} else {
		res, err = next(ctx)
	}
	if err != nil {
		graphql.AddError(ctx, err)
		return graphql.Null, nullable(field.Definition)
	}
	fc.Result = res
	return ec.completeValue(ctx, field.Definition.Type, res, field.Selections)
}

func (ec *executionContext) completeValue(ctx context.Context, typ *ast.Type, v interface{}, selSet ast.SelectionSet) (graphql.Marshaler, bool) {
	rv, ok := indirect(v)
	if !ok {
		if typ.NonNull {
			graphql.AddError(ctx, errMustNotBeNull)
			return graphql.Null, false
		}
		return graphql.Null, true
	}
	if typ.Elem != nil {
		return ec.completeList(ctx, typ, rv, selSet)
	}

	def := ec.schema.Types[typ.NamedType]
	var out graphql.Marshaler
	valid := true
	switch def.Kind {
	case ast.Object:
		out, valid = ec.executeObject(ctx, def.Name, v, selSet, false)
	case ast.Scalar, ast.Enum:
		m, err := marshalLeaf(def, rv)
		if err != nil {
			graphql.AddError(ctx, err)
			valid = false
		}
		out = m
	default:
		graphql.AddError(ctx, fmt.Errorf("unsupported output type %s", def.Name))
		valid = false
	}
	if !valid {
		return graphql.Null, !typ.NonNull
	}
	return out, true
}

func (ec *executionContext) completeList(ctx context.Context, typ *ast.Type, rv reflect.Value, selSet ast.SelectionSet) (graphql.Marshaler, bool) {
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		graphql.AddError(ctx, fmt.Errorf("expected a list, got %s", rv.Type()))
		return graphql.Null, !typ.NonNull
	}

	n := rv.Len()
	out := make(graphql.Array, n)
	valid := make([]bool, n)
	complete := func(i int) {
		idx := i
		item := rv.Index(i).Interface()
		ctx := graphql.WithFieldContext(ctx, &graphql.FieldContext{Index: &idx, Result: item})
		out[i], valid[i] = ec.completeValue(ctx, typ.Elem, item, selSet)
	}
	// objects resolve side by side so their loaders can batch
	if n > 1 && ec.isObject(typ.Elem) {
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				complete(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < n; i++ {
			complete(i)
		}
	}

	for _, ok := range valid {
		if !ok {
			return graphql.Null, !typ.NonNull
		}
	}
	return out, true
}

func (ec *executionContext) isObject(typ *ast.Type) bool {
	if typ.Elem != nil {
		return false
	}
	def := ec.schema.Types[typ.NamedType]
	return def != nil && def.Kind == ast.Object
}

// object writes its fields in selection order.
type object struct {
	keys   []string
	values []graphql.Marshaler
}

func (o *object) MarshalGQL(w io.Writer) {
	io.WriteString(w, "{")
	for i, key := range o.keys {
		if i > 0 {
			io.WriteString(w, ",")
		}
		graphql.MarshalString(key).MarshalGQL(w)
		io.WriteString(w, ":")
		o.values[i].MarshalGQL(w)
	}
	io.WriteString(w, "}")
}

func nullable(def *ast.FieldDefinition) bool {
	return def == nil || !def.Type.NonNull
}

// indirect dereferences pointers and interfaces. ok is false for nil values.
func indirect(v interface{}) (reflect.Value, bool) {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return rv, false
		}
		rv = rv.Elem()
	}
	return rv, rv.IsValid()
}

// structField reads the exported field matching a camelCase GraphQL name, "closingDate" from
// ClosingDate and "referenceId" from ReferenceID included.
func structField(obj interface{}, name string) (interface{}, error) {
	rv, ok := indirect(obj)
	if !ok || rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot read %s from %T", name, obj)
	}
	goName := strings.ToUpper(name[:1]) + name[1:]
	f := rv.FieldByName(goName)
	if !f.IsValid() && strings.HasSuffix(goName, "Id") {
		f = rv.FieldByName(strings.TrimSuffix(goName, "Id") + "ID")
	}
	if !f.IsValid() {
		return nil, fmt.Errorf("%T has no field %s", obj, name)
	}
	return f.Interface(), nil
}
