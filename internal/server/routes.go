package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stagepass/stagepass/internal/modules/modulemanager"
)

// registerCoreRoutes registers routes that do not belong to any module
func registerCoreRoutes(r *gin.Engine) {
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	})

	r.GET("/api/modules", func(c *gin.Context) {
		type moduleInfo struct {
			ID   string `json:"id"`
			Name string `json:"name"`
			Core bool   `json:"core"`
		}
		var modules []moduleInfo
		for _, m := range modulemanager.ListModules() {
			modules = append(modules, moduleInfo{ID: m.ID(), Name: m.Name(), Core: m.Core()})
		}
		c.JSON(http.StatusOK, gin.H{"modules": modules})
	})
}
