package scope

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MappingEntry pairs a record type with the access it confers.
type MappingEntry struct {
	RecordType RecordType `json:"recordType"`
	AccessType AccessType `json:"accessType"`
}

// VocabularyResponse is returned by GET /scopes.
type VocabularyResponse struct {
	RecordTypes []RecordType   `json:"recordTypes"`
	AccessTypes []AccessType   `json:"accessTypes"`
	Mapping     []MappingEntry `json:"mapping"`
}

// Vocabulary describes both scope vocabularies and the mapping between them.
func Vocabulary() VocabularyResponse {
	resp := VocabularyResponse{
		RecordTypes: RecordTypes(),
		AccessTypes: AccessTypes(),
	}
	for _, r := range resp.RecordTypes {
		resp.Mapping = append(resp.Mapping, MappingEntry{RecordType: r, AccessType: ToAccessType(r)})
	}
	return resp
}

// RegisterRoutes exposes GET /scopes.
func RegisterRoutes(router gin.IRouter) {
	router.GET("/scopes", func(c *gin.Context) {
		c.JSON(http.StatusOK, Vocabulary())
	})
}
