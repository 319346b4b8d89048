package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/de101/dataportal/internal/errdefs"
	"github.com/de101/dataportal/internal/extract"
	"github.com/de101/dataportal/internal/session"
)

const credentialsKey = "portal_credentials"

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "data-request-automation-portal is active"})
}

// handleLogin validates the submitted email and API token against the
// tracker and opens a session on success.
func (s *Server) handleLogin(c *gin.Context) {
	email := c.PostForm("email")
	token := c.PostForm("api_token")
	if email == "" || token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and api_token are required"})
		return
	}

	client := s.tracker(email, token)
	user, err := client.Myself(c.Request.Context())
	if err != nil {
		if errors.Is(err, errdefs.ErrUnauthenticated) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		s.logger.Error("Login credential check failed.", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "tracker unavailable"})
		return
	}

	id, err := s.sessions.Create(c.Request.Context(), session.Credentials{Email: email, APIToken: token})
	if err != nil {
		s.logger.Error("Session create failed.", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create session"})
		return
	}

	maxAge := int(s.cfg.Session.TTL.Seconds())
	c.SetCookie(s.cfg.Session.CookieName, id, maxAge, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "user": user.DisplayName})
}

func (s *Server) handleLogout(c *gin.Context) {
	if id, err := c.Cookie(s.cfg.Session.CookieName); err == nil {
		if derr := s.sessions.Delete(c.Request.Context(), id); derr != nil {
			s.logger.Warn("Session delete failed.", "error", derr)
		}
	}
	c.SetCookie(s.cfg.Session.CookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// requireSession resolves the session cookie to tracker credentials and
// stores them in the request context. Unauthenticated requests stop here.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(s.cfg.Session.CookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session required"})
			return
		}
		creds, err := s.sessions.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, errdefs.ErrUnauthenticated) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
				return
			}
			s.logger.Error("Session lookup failed.", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
			return
		}
		c.Set(credentialsKey, creds)
		c.Next()
	}
}

func (s *Server) credentials(c *gin.Context) *session.Credentials {
	v, _ := c.Get(credentialsKey)
	creds, _ := v.(*session.Credentials)
	return creds
}

type ticketView struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
	Status  string `json:"status"`
}

// handleTicketList returns one page of the project's data-request tickets.
func (s *Server) handleTicketList(c *gin.Context) {
	creds := s.credentials(c)
	client := s.tracker(creds.Email, creds.APIToken)

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage := s.cfg.Jira.TicketsPerPage
	startAt := (page - 1) * perPage

	// The portal browses at most MaxResults tickets; pages past the cap are
	// empty and never hit the tracker.
	maxBrowse := s.cfg.Jira.MaxResults
	if maxBrowse > 0 {
		if startAt >= maxBrowse {
			c.JSON(http.StatusOK, gin.H{
				"tickets": []ticketView{},
				"page":    page,
				"total":   maxBrowse,
			})
			return
		}
		if startAt+perPage > maxBrowse {
			perPage = maxBrowse - startAt
		}
	}

	res, err := client.SearchIssues(c.Request.Context(), s.cfg.Jira.ProjectKey, startAt, perPage)
	if err != nil {
		s.upstreamError(c, err)
		return
	}

	total := res.Total
	if maxBrowse > 0 && total > maxBrowse {
		total = maxBrowse
	}
	tickets := make([]ticketView, 0, len(res.Issues))
	for _, issue := range res.Issues {
		tickets = append(tickets, ticketView{
			Key:     issue.Key,
			Summary: issue.Fields.Summary,
			Status:  issue.Fields.Status.Name,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": tickets,
		"page":    page,
		"total":   total,
	})
}

// handleExtract checks the approval gate and runs the extraction pipeline
// for one ticket, synchronously, returning the run summary.
func (s *Server) handleExtract(c *gin.Context) {
	creds := s.credentials(c)
	client := s.tracker(creds.Email, creds.APIToken)
	key := c.Param("key")

	issue, err := client.GetIssue(c.Request.Context(), key)
	if err != nil {
		s.upstreamError(c, err)
		return
	}

	gate := &extract.Gate{
		Groups:     client,
		AdminGroup: s.cfg.Jira.AdminGroup,
		PIILabel:   s.cfg.Jira.PIILabel,
	}
	if err := gate.Authorize(c.Request.Context(), issue, creds.Email); err != nil {
		if errors.Is(err, errdefs.ErrForbidden) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin-group membership required for PII extraction"})
			return
		}
		s.upstreamError(c, err)
		return
	}

	summary, err := s.orchestratorFor(client).Run(c.Request.Context(), key, creds.Email)
	if err != nil {
		if errors.Is(err, errdefs.ErrTicketBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": "extraction already in progress for this ticket"})
			return
		}
		s.logger.Error("Extraction run failed.", "ticket", key, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// upstreamError maps tracker errors onto portal status codes.
func (s *Server) upstreamError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, errdefs.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "tracker rejected credentials"})
	case errors.Is(err, errdefs.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "tracker denied access"})
	case errors.Is(err, errdefs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ticket not found"})
	default:
		s.logger.Error("Tracker call failed.", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "tracker unavailable"})
	}
}
