package graph

import (
	"context"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/mmdatafocus/closing_backend/middlewares"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
)

// ResolveDivergencesPayload is the all or nothing result of a batch resolution.
type ResolveDivergencesPayload struct {
	Resolved []*models.Divergence
	Count    int
}

type resolveBatchInput struct {
	Ids []int `validate:"max=500,dive,gt=0"`
}

func (r *Resolver) fieldResolvers() map[string]map[string]fieldResolver {
	return map[string]map[string]fieldResolver{
		"Query": {
			"dailyClosing":   r.dailyClosing,
			"dailyClosings":  r.dailyClosings,
			"closingHistory": r.closingHistory,
			"divergence":     r.divergence,
		},
		"Mutation": {
			"resolveDivergence":  r.resolveDivergence,
			"resolveDivergences": r.resolveDivergences,
			"clearClosing":       r.clearClosing,
		},
		"DailyClosing": {
			"transactions": closingTransactions,
			"divergences":  closingDivergences,
			"history":      closingHistory,
		},
		"DailyClosingSummary": {
			"transactions": closingTransactions,
			"divergences":  closingDivergences,
		},
		"NetworkTransaction": {
			"fee": transactionFee,
		},
	}
}

// dailyClosing creates an empty pending closing the first time a date is read. When children are
// selected they are read with the closing and primed into the loaders.
func (r *Resolver) dailyClosing(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	date, err := argDate(args, "date")
	if err != nil {
		return nil, err
	}
	if !selectsChildren(ctx) {
		return models.GetOrCreateDailyClosing(ctx, date)
	}
	details, err := models.GetDailyClosingDetails(ctx, date)
	if err != nil {
		return nil, err
	}
	middlewares.PrimeClosingDetails(ctx, details)
	return details.Closing, nil
}

func (r *Resolver) dailyClosings(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	start, err := argDate(args, "start")
	if err != nil {
		return nil, err
	}
	end, err := argDate(args, "end")
	if err != nil {
		return nil, err
	}
	return models.ListDailyClosings(ctx, start, end)
}

func (r *Resolver) closingHistory(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	date, err := argDate(args, "date")
	if err != nil {
		return nil, err
	}
	return models.GetClosingHistory(ctx, date)
}

func (r *Resolver) divergence(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	id, err := argInt(args, "id")
	if err != nil {
		return nil, err
	}
	return models.GetDivergence(ctx, id)
}

func (r *Resolver) resolveDivergence(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	id, err := argInt(args, "id")
	if err != nil {
		return nil, err
	}
	decision, err := argString(args, "decision")
	if err != nil {
		return nil, err
	}
	justification, err := argString(args, "justification")
	if err != nil {
		return nil, err
	}
	return r.Reconciler.ResolveDivergence(ctx, id, decision, justification)
}

func (r *Resolver) resolveDivergences(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	ids, err := argInts(args, "ids")
	if err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(resolveBatchInput{Ids: ids}); err != nil {
		return nil, err
	}
	decision, err := argString(args, "decision")
	if err != nil {
		return nil, err
	}
	justification, err := argString(args, "justification")
	if err != nil {
		return nil, err
	}
	resolved, err := r.Reconciler.ResolveDivergences(ctx, ids, decision, justification)
	if err != nil {
		return nil, err
	}
	return &ResolveDivergencesPayload{Resolved: resolved, Count: len(resolved)}, nil
}

func (r *Resolver) clearClosing(ctx context.Context, _ interface{}, args map[string]interface{}) (interface{}, error) {
	date, err := argDate(args, "date")
	if err != nil {
		return nil, err
	}
	return r.Reconciler.ClearDay(ctx, date)
}

func closingTransactions(ctx context.Context, obj interface{}, _ map[string]interface{}) (interface{}, error) {
	closingId, err := closingIdOf(obj)
	if err != nil {
		return nil, err
	}
	return middlewares.GetClosingTransactions(ctx, closingId)
}

// closingDivergences filters the closing's divergences by resolution status when one is given.
func closingDivergences(ctx context.Context, obj interface{}, args map[string]interface{}) (interface{}, error) {
	closingId, err := closingIdOf(obj)
	if err != nil {
		return nil, err
	}
	status, err := optionalString(args, "status")
	if err != nil {
		return nil, err
	}
	divergences, err := middlewares.GetClosingDivergences(ctx, closingId)
	if err != nil || status == "" {
		return divergences, err
	}
	filtered := []*models.Divergence{}
	for _, d := range divergences {
		if d.ResolutionStatus == models.ResolutionStatus(status) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

func closingHistory(ctx context.Context, obj interface{}, _ map[string]interface{}) (interface{}, error) {
	closingId, err := closingIdOf(obj)
	if err != nil {
		return nil, err
	}
	return middlewares.GetClosingHistory(ctx, closingId)
}

func transactionFee(_ context.Context, obj interface{}, _ map[string]interface{}) (interface{}, error) {
	transaction, ok := obj.(*models.NetworkTransaction)
	if !ok {
		return nil, fmt.Errorf("fee resolved on %T", obj)
	}
	return transaction.Fee(), nil
}

func closingIdOf(obj interface{}) (int, error) {
	switch closing := obj.(type) {
	case *models.DailyClosing:
		return closing.ID, nil
	case *models.DailyClosingSummary:
		return closing.ID, nil
	}
	return 0, fmt.Errorf("closing children resolved on %T", obj)
}

// selectsChildren reports whether the current field selects transactions or divergences.
func selectsChildren(ctx context.Context) bool {
	fc := graphql.GetFieldContext(ctx)
	if fc == nil {
		return false
	}
	for _, field := range graphql.CollectFields(graphql.GetOperationContext(ctx), fc.Field.Selections, []string{"DailyClosing"}) {
		if field.Name == "transactions" || field.Name == "divergences" {
			return true
		}
	}
	return false
}
