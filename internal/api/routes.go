package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleGetHealth)

		optimizations := v1.Group("/optimizations")
		{
			optimizations.POST("", s.handleCreateOptimization)
			optimizations.GET("", s.handleListOptimizations)
			optimizations.GET("/:id", s.handleGetOptimization)
			optimizations.GET("/:id/stream", s.handleStreamOptimization)
			optimizations.DELETE("/:id", s.handleCancelOptimization)
		}

		runs := v1.Group("/runs")
		{
			runs.GET("", s.handleListRuns)
			runs.GET("/:id", s.handleGetRun)
			runs.GET("/:id/export", s.handleExportRun)
		}
	}

	s.router.GET("/", s.handleRoot)
}
