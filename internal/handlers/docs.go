package handlers

import (
	"encoding/json"
	"net/http"
)

func jsonBody(description string, properties map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]interface{}{
					"type":       "object",
					"properties": properties,
				},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the exporter endpoints
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"get": map[string]interface{}{
			"summary":     "Liveness check",
			"description": "Always succeeds while the process is running. Never contacts the station.",
			"responses": map[string]interface{}{
				"200": jsonBody("Exporter is alive", map[string]interface{}{
					"status":  map[string]interface{}{"type": "string", "example": "healthy"},
					"service": map[string]interface{}{"type": "string", "example": ServiceName},
				}),
			},
		},
	}

	ready := map[string]interface{}{
		"get": map[string]interface{}{
			"summary":     "Readiness check",
			"description": "Ready when a valid reading, fresh or stale, can be served. May trigger a scrape when the cache has expired.",
			"responses": map[string]interface{}{
				"200": jsonBody("A valid reading is available", map[string]interface{}{
					"status":              map[string]interface{}{"type": "string", "example": "ready"},
					"cache_age_seconds":   map[string]string{"type": "number"},
					"last_scrape_success": map[string]string{"type": "boolean"},
				}),
				"503": jsonBody("No valid reading has ever been obtained", map[string]interface{}{
					"status":              map[string]interface{}{"type": "string", "example": "not_ready"},
					"reason":              map[string]string{"type": "string"},
					"last_scrape_success": map[string]string{"type": "boolean"},
				}),
			},
		},
	}

	spec := map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":       "Meteo Chamois Prometheus Exporter",
			"description": "Scrapes the Roquefort-les-Pins station pages and exposes the current reading as Prometheus metrics",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:9100", "description": "Default listen address"},
		},
		"paths": map[string]interface{}{
			"/": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Service information",
					"description": "Exporter identity, endpoints and scrape status",
					"responses": map[string]interface{}{
						"200": jsonBody("Service information", map[string]interface{}{
							"service":   map[string]string{"type": "string"},
							"version":   map[string]string{"type": "string"},
							"station":   map[string]string{"type": "string"},
							"endpoints": map[string]interface{}{"type": "object", "additionalProperties": map[string]string{"type": "string"}},
							"status": map[string]interface{}{
								"type": "object",
								"properties": map[string]interface{}{
									"last_scrape_success":  map[string]string{"type": "boolean"},
									"cache_age_seconds":    map[string]interface{}{"type": "number", "nullable": true},
									"last_scrape_duration": map[string]string{"type": "number"},
								},
							},
						}),
					},
				},
			},
			"/health":    health,
			"/healthz":   health,
			"/ready":     ready,
			"/readiness": ready,
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Prometheus metrics",
					"description": "Weather gauges for the station, scrape health gauges and exporter self-metrics",
					"responses": map[string]interface{}{
						"200": map[string]interface{}{
							"description": "Prometheus metrics in text format",
							"content": map[string]interface{}{
								"text/plain": map[string]interface{}{
									"schema": map[string]string{"type": "string"},
								},
							},
						},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
