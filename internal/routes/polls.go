package routes

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"gitlab.com/ranfdev/pollvote/internal/models"
)

func parseID(r *http.Request, param string) (int64, AppError) {
	raw := chi.URLParam(r, param)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &ErrBadRequest{Message: "Invalid " + param, Cause: err}
	}
	return id, nil
}

func (routes *Routes) PostVote(w http.ResponseWriter, r *http.Request) AppError {
	optionID, appErr := parseID(r, "optionID")
	if appErr != nil {
		return appErr
	}

	res, err := routes.toggler.Toggle(r.Context(), optionID, GetUserID(r))
	if err != nil {
		return toAppError(err)
	}
	renderJSON(w, http.StatusOK, res)
	return nil
}

func (routes *Routes) GetResults(w http.ResponseWriter, r *http.Request) AppError {
	pollID, appErr := parseID(r, "pollID")
	if appErr != nil {
		return appErr
	}

	counts, err := routes.reports.BuildReport(r.Context(), pollID)
	if err != nil {
		return toAppError(err)
	}
	renderJSON(w, http.StatusOK, models.PollReport{PollID: pollID, Options: counts})
	return nil
}
