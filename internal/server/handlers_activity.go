package server

import (
	"net/http"

	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/field"
	"github.com/docschrodinger/PP-Street-Team-App-sub000/internal/missions"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) handleListMissions(c *gin.Context) {
	views, err := h.missions.ListActiveMissions(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "server.list_missions", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"missions": views})
}

func (h *httpHandler) handleCreateMission(c *gin.Context) {
	var definition missions.MissionDefinition
	if err := c.ShouldBindJSON(&definition); err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	definition.CreatedBy = currentUserID(c).String()
	mission, err := h.missions.CreateMission(c.Request.Context(), definition)
	if err != nil {
		h.respondError(c, "server.create_mission", err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"mission": mission})
}

func (h *httpHandler) handleClaimMission(c *gin.Context) {
	outcome, err := h.missions.ClaimMissionReward(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "server.claim_mission", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"claim": outcome})
}

func (h *httpHandler) handleListRuns(c *gin.Context) {
	runs, err := h.field.ListRuns(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "server.list_runs", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"runs": runs})
}

func (h *httpHandler) handleStartRun(c *gin.Context) {
	var input field.RunInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	run, err := h.field.StartRun(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		h.respondError(c, "server.start_run", err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"run": run})
}

func (h *httpHandler) handleCompleteRun(c *gin.Context) {
	result, err := h.field.CompleteRun(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "server.complete_run", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"result": result})
}

func (h *httpHandler) handleListLeads(c *gin.Context) {
	leads, err := h.field.ListLeads(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "server.list_leads", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"leads": leads})
}

func (h *httpHandler) handleAddLead(c *gin.Context) {
	var input field.LeadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	result, err := h.field.AddLead(c.Request.Context(), currentUserID(c), input)
	if err != nil {
		h.respondError(c, "server.add_lead", err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"result": result})
}

type leadStagePayload struct {
	Stage string `json:"stage" binding:"required"`
}

func (h *httpHandler) handleAdvanceLead(c *gin.Context) {
	var payload leadStagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondFailure(c, http.StatusBadRequest, errorInvalidRequest)
		return
	}
	result, err := h.field.AdvanceLead(c.Request.Context(), currentUserID(c), c.Param("id"), field.Stage(payload.Stage))
	if err != nil {
		h.respondError(c, "server.advance_lead", err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"result": result})
}
