package graph

import (
	"fmt"
	"reflect"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/vektah/gqlparser/v2/ast"
)

var timeType = reflect.TypeOf(time.Time{})

// marshalLeaf writes a scalar or enum value. Enum values must be declared by the schema.
func marshalLeaf(def *ast.Definition, rv reflect.Value) (graphql.Marshaler, error) {
	if def.Kind == ast.Enum {
		if rv.Kind() != reflect.String || def.EnumValues.ForName(rv.String()) == nil {
			return graphql.Null, fmt.Errorf("%v is not a valid %s", rv.Interface(), def.Name)
		}
		return graphql.MarshalString(rv.String()), nil
	}

	switch def.Name {
	case "Date", "Time":
		if rv.Type() != timeType {
			return graphql.Null, fmt.Errorf("%s expects a time, got %s", def.Name, rv.Type())
		}
		t := rv.Interface().(time.Time)
		if def.Name == "Date" {
			return graphql.MarshalString(t.Format(utils.DateLayout)), nil
		}
		return graphql.MarshalTime(t), nil
	case "Int", "Money":
		switch rv.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			return graphql.MarshalInt64(rv.Int()), nil
		}
	case "Float":
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return graphql.MarshalFloat(rv.Float()), nil
		}
	case "String", "ID":
		if rv.Kind() == reflect.String {
			return graphql.MarshalString(rv.String()), nil
		}
	case "Boolean":
		if rv.Kind() == reflect.Bool {
			return graphql.MarshalBoolean(rv.Bool()), nil
		}
	}
	return graphql.Null, fmt.Errorf("cannot marshal %s as %s", rv.Type(), def.Name)
}

func argInt(args map[string]interface{}, name string) (int, error) {
	id, err := graphql.UnmarshalInt(args[name])
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, name, err)
	}
	return id, nil
}

func argString(args map[string]interface{}, name string) (string, error) {
	s, err := graphql.UnmarshalString(args[name])
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, name, err)
	}
	return s, nil
}

// argDate parses a Date argument. Malformed dates wrap utils.ErrInvalidDate.
func argDate(args map[string]interface{}, name string) (time.Time, error) {
	s, err := argString(args, name)
	if err != nil {
		return time.Time{}, err
	}
	return utils.ParseDate(s)
}

func argInts(args map[string]interface{}, name string) ([]int, error) {
	raw, ok := args[name].([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list", models.ErrInvalidInput, name)
	}
	ids := make([]int, 0, len(raw))
	for _, v := range raw {
		id, err := graphql.UnmarshalInt(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrInvalidInput, name, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// optionalString returns "" when the argument is absent or null.
func optionalString(args map[string]interface{}, name string) (string, error) {
	if args[name] == nil {
		return "", nil
	}
	return argString(args, name)
}
