package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/herbtrace/herbtrace/internal/ledger"
)

type coordinatesBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type harvestEventBody struct {
	BatchID     string           `json:"batch_id" binding:"required"`
	HerbName    string           `json:"herb_name" binding:"required"`
	ActorName   string           `json:"actor_name" binding:"required"`
	Coordinates *coordinatesBody `json:"coordinates"`
	Metadata    ledger.Metadata  `json:"metadata"`
}

func (s *Server) handleHarvestEvent(c *gin.Context) {
	var body harvestEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	req := ledger.AppendRequest{
		BatchID:   body.BatchID,
		EventType: ledger.EventHarvest,
		HerbName:  body.HerbName,
		ActorName: body.ActorName,
		Metadata:  body.Metadata,
	}
	if body.Coordinates != nil {
		req.Coordinates = &ledger.Coordinates{Lat: body.Coordinates.Lat, Lng: body.Coordinates.Lng}
	}

	event, err := s.svc.AppendEvent(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

type chainEventBody struct {
	BatchID   string          `json:"batch_id" binding:"required"`
	ActorName string          `json:"actor_name" binding:"required"`
	Metadata  ledger.Metadata `json:"metadata"`
}

func (s *Server) handleCollectionEvent(c *gin.Context) {
	s.appendChainEvent(c, ledger.EventCollection)
}

func (s *Server) handleProcessingEvent(c *gin.Context) {
	s.appendChainEvent(c, ledger.EventProcessing)
}

func (s *Server) appendChainEvent(c *gin.Context, eventType ledger.EventType) {
	var body chainEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	event, err := s.svc.AppendEvent(c.Request.Context(), ledger.AppendRequest{
		BatchID:   body.BatchID,
		EventType: eventType,
		ActorName: body.ActorName,
		Metadata:  body.Metadata,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"event": event})
}

type qualityTestBody struct {
	BatchID     string `json:"batch_id" binding:"required"`
	ActorName   string `json:"actor_name" binding:"required"`
	TestResults struct {
		Moisture        float64 `json:"moisture"`
		Pesticide       string  `json:"pesticide"`
		DNAAuthenticity string  `json:"dna_authenticity"`
	} `json:"test_results" binding:"required"`
}

func (s *Server) handleQualityTestEvent(c *gin.Context) {
	var body qualityTestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	event, err := s.svc.AppendEvent(c.Request.Context(), ledger.AppendRequest{
		BatchID:   body.BatchID,
		EventType: ledger.EventQualityTest,
		ActorName: body.ActorName,
		Metadata: ledger.Metadata{
			"moisture_content":  body.TestResults.Moisture,
			"pesticide_residue": body.TestResults.Pesticide,
			"dna_authenticity":  body.TestResults.DNAAuthenticity,
		},
	})
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"event":       event,
		"test_passed": event.Metadata["test_result"] == "pass",
	})
}

type createProductBody struct {
	BatchID          string `json:"batch_id" binding:"required"`
	ProductName      string `json:"product_name" binding:"required"`
	ManufacturerName string `json:"manufacturer_name" binding:"required"`
	BatchSize        string `json:"batch_size"`
	Formulation      string `json:"formulation"`
}

func (s *Server) handleCreateProduct(c *gin.Context) {
	var body createProductBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	product, err := s.svc.CreateProduct(c.Request.Context(), ledger.CreateProductRequest{
		BatchID:          body.BatchID,
		ProductName:      body.ProductName,
		ManufacturerName: body.ManufacturerName,
		BatchSize:        body.BatchSize,
		Formulation:      body.Formulation,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"product": product, "qr_code": product.Code})
}

func (s *Server) handleProvenance(c *gin.Context) {
	view, err := s.svc.GetProvenance(c.Request.Context(), c.Param("identifier"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleBatchChain(c *gin.Context) {
	events, warnings, err := s.svc.BatchChain(c.Request.Context(), c.Param("batchID"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "warnings": warnings})
}

func (s *Server) handleHerbs(c *gin.Context) {
	herbs, err := s.svc.Herbs(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"herbs": herbs})
}

func (s *Server) handleAnalytics(c *gin.Context) {
	stats, err := s.svc.Stats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// writeError maps domain errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	var (
		notFound     *ledger.NotFoundError
		missingField *ledger.MissingFieldError
		conflict     *ledger.SequenceConflictError
		noEvents     *ledger.NoEventsError
		qualityGate  *ledger.QualityGateError
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &noEvents):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &missingField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &qualityGate):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
