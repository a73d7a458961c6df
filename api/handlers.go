package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"sigforge/compiler"
	"sigforge/core"
	"sigforge/simulate"

	"github.com/gorilla/mux"
)

type healthResponse struct {
	Status  string `json:"status"`
	GraphID string `json:"graphId"`
	Nodes   int    `json:"nodes"`
	Clients int    `json:"websocketClients"`
}

func (a *API) healthCheck(w http.ResponseWriter, _ *http.Request) {
	g := a.session.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		GraphID: g.ID,
		Nodes:   g.NodeCount(),
		Clients: a.hub.ClientCount(),
	})
}

func (a *API) getCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Catalog().List())
}

func (a *API) exportGraph(w http.ResponseWriter, _ *http.Request) {
	data, err := a.session.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to export graph", err, a.logger)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type importResponse struct {
	GraphID  string   `json:"graphId"`
	Warnings []string `json:"warnings"`
}

// importGraph replaces the graph. ?strict=true refuses documents that
// would lose information.
func (a *API) importGraph(w http.ResponseWriter, r *http.Request) {
	strict, _ := strconv.ParseBool(r.URL.Query().Get("strict"))
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err, a.logger)
		return
	}
	warnings, err := a.session.Import(data, strict)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, importResponse{GraphID: a.session.GraphID(), Warnings: warnings})
}

func (a *API) resetGraph(w http.ResponseWriter, _ *http.Request) {
	a.session.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"graphId": a.session.GraphID()})
}

func (a *API) setMetadata(w http.ResponseWriter, r *http.Request) {
	var m core.Metadata
	if !a.decode(w, r, &m) {
		return
	}
	a.session.SetMetadata(m)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) validateGraph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Validate())
}

type addNodeRequest struct {
	ComponentID string         `json:"componentId" validate:"required,max=64"`
	Parameters  map[string]any `json:"parameters"`
}

type idResponse struct {
	ID string `json:"id"`
}

func (a *API) addNode(w http.ResponseWriter, r *http.Request) {
	var req addNodeRequest
	if !a.decode(w, r, &req) {
		return
	}
	id, err := a.session.AddNode(req.ComponentID, req.Parameters)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (a *API) removeNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.session.RemoveNode(id) {
		a.writeDomainError(w, &core.GraphError{Op: "remove node", ID: id, Err: core.ErrNodeNotFound})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type valueRequest struct {
	Value any `json:"value"`
}

func (a *API) setParameter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req valueRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.session.SetParameter(vars["id"], vars["name"], req.Value); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) moveNode(w http.ResponseWriter, r *http.Request) {
	var pos core.Position
	if !a.decode(w, r, &pos) {
		return
	}
	if err := a.session.MoveNode(mux.Vars(r)["id"], pos); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status core.Status `json:"status" validate:"required,oneof=configured running completed error"`
}

func (a *API) setNodeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.session.SetNodeStatus(mux.Vars(r)["id"], req.Status); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type connectRequest struct {
	FromNode string `json:"fromNode" validate:"required"`
	FromPort string `json:"fromPort" validate:"required"`
	ToNode   string `json:"toNode" validate:"required"`
	ToPort   string `json:"toPort" validate:"required"`
	Operator string `json:"operator"`
}

func (a *API) connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !a.decode(w, r, &req) {
		return
	}
	op := core.OpAND
	if req.Operator != "" {
		var err error
		if op, err = core.ParseOperator(req.Operator); err != nil {
			a.writeDomainError(w, err)
			return
		}
	}
	id, err := a.session.Connect(req.FromNode, req.FromPort, req.ToNode, req.ToPort, op)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (a *API) disconnect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !a.session.Disconnect(id) {
		a.writeDomainError(w, &core.GraphError{Op: "disconnect", ID: id, Err: core.ErrEdgeNotFound})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type operatorRequest struct {
	Operator string `json:"operator" validate:"required"`
}

func (a *API) setOperator(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if !a.decode(w, r, &req) {
		return
	}
	op, err := core.ParseOperator(req.Operator)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	if err := a.session.SetOperator(mux.Vars(r)["id"], op); err != nil {
		a.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// compileOptions reads optional compile options. An empty body means
// defaults.
func (a *API) compileOptions(w http.ResponseWriter, r *http.Request) (compiler.Options, bool) {
	var opts compiler.Options
	if r.ContentLength == 0 {
		return opts, true
	}
	return opts, a.decode(w, r, &opts)
}

// writeCompileError sends the validation result for an invalid graph so
// clients can show every problem at once.
func (a *API) writeCompileError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, struct {
			Error      string                `json:"error"`
			Validation core.ValidationResult `json:"validation"`
		}{Error: verr.Error(), Validation: verr.Result})
		return
	}
	a.writeDomainError(w, err)
}

func (a *API) compile(w http.ResponseWriter, r *http.Request) {
	format, err := compiler.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	opts, ok := a.compileOptions(w, r)
	if !ok {
		return
	}
	rule, err := a.session.Compile(r.Context(), format, opts)
	if err != nil {
		a.writeCompileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (a *API) compileAll(w http.ResponseWriter, r *http.Request) {
	opts, ok := a.compileOptions(w, r)
	if !ok {
		return
	}
	results, err := a.session.CompileAll(r.Context(), opts)
	if err != nil {
		a.writeCompileError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type compilerStatsResponse struct {
	Cache   compiler.CacheStats `json:"cache"`
	UsedSID int                 `json:"usedSids"`
}

func (a *API) compilerStats(w http.ResponseWriter, _ *http.Request) {
	c := a.session.Compiler()
	resp := compilerStatsResponse{Cache: c.CacheStats()}
	if sids := c.SIDs(); sids != nil {
		resp.UsedSID = sids.UsedCount()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) runTest(w http.ResponseWriter, r *http.Request) {
	t, err := simulate.ParseTestType(mux.Vars(r)["test"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), err, a.logger)
		return
	}
	res, err := a.session.RunTest(r.Context(), t)
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) runAllTests(w http.ResponseWriter, r *http.Request) {
	report, err := a.session.RunAllTests(r.Context())
	if err != nil {
		a.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) getHistory(w http.ResponseWriter, _ *http.Request) {
	history := a.session.History()
	if history == nil {
		history = []simulate.TestReport{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (a *API) clearHistory(w http.ResponseWriter, _ *http.Request) {
	a.session.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}
