package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description, typ string) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      object{"type": typ},
	}
}

var runIDParam = object{
	"name":        "id",
	"in":          "path",
	"description": "Run ID (UUID)",
	"required":    true,
	"schema":      object{"type": "string", "format": "uuid"},
}

var pageParams = []object{
	{
		"name":        "page",
		"in":          "query",
		"description": "Page number (default: 1)",
		"required":    false,
		"schema":      object{"type": "integer", "default": 1},
	},
	{
		"name":        "limit",
		"in":          "query",
		"description": "Records per page (default: 100, max: 1000)",
		"required":    false,
		"schema":      object{"type": "integer", "default": 100},
	},
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func jsonResponse(description string, schema object) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": schema},
		},
	}
}

func paginated(item string) object {
	return object{
		"type": "object",
		"properties": object{
			"data":        object{"type": "array", "items": ref(item)},
			"total":       object{"type": "integer"},
			"page":        object{"type": "integer"},
			"limit":       object{"type": "integer"},
			"total_pages": object{"type": "integer"},
		},
	}
}

func props(types map[string]string) object {
	out := make(object, len(types))
	for name, typ := range types {
		out[name] = object{"type": typ}
	}
	return object{"type": "object", "properties": out}
}

var (
	notFound = jsonResponse("Run not found", ref("Error"))
	badRunID = jsonResponse("Run ID is not a UUID", ref("Error"))
)

// OpenAPISpec returns the OpenAPI 3.0 specification for the run query API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Charging Planner API",
			"description": "Read-only access to persisted EV charging and solar installation plans",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/runs": object{
				"get": object{
					"summary":     "List planning runs",
					"description": "Runs ordered newest first, optionally filtered by solver status",
					"parameters": append([]object{
						queryParam("status", "optimal, infeasible, time-limit-reached or error", "string"),
					}, pageParams...),
					"responses": object{
						"200": jsonResponse("Successful response", paginated("PlanRun")),
						"400": jsonResponse("Invalid status filter", ref("Error")),
					},
				},
			},
			"/api/runs/{id}": object{
				"get": object{
					"summary":     "Get a run",
					"description": "Run record with its comuna summaries and, for infeasible runs, the conflict set",
					"parameters":  []object{runIDParam},
					"responses": object{
						"200": jsonResponse("Successful response", ref("PlanRun")),
						"400": badRunID,
						"404": notFound,
					},
				},
			},
			"/api/runs/{id}/comunas": object{
				"get": object{
					"summary":    "Per-comuna summaries of a run, including the ALL row",
					"parameters": []object{runIDParam},
					"responses": object{
						"200": jsonResponse("Successful response", object{"type": "array", "items": ref("ComunaSummary")}),
						"400": badRunID,
						"404": notFound,
					},
				},
			},
			"/api/runs/{id}/sites": object{
				"get": object{
					"summary": "Site installations of a run",
					"parameters": append([]object{
						runIDParam,
						queryParam("comuna", "Filter by comuna", "string"),
						queryParam("period", "Filter by period (1-based)", "integer"),
					}, pageParams...),
					"responses": object{
						"200": jsonResponse("Successful response", paginated("SiteInstallation")),
						"400": jsonResponse("Invalid period or run ID", ref("Error")),
						"404": notFound,
					},
				},
			},
			"/api/runs/{id}/conflicts": object{
				"get": object{
					"summary":    "Conflicting constraints of an infeasible run",
					"parameters": []object{runIDParam},
					"responses": object{
						"200": jsonResponse("Successful response", object{"type": "array", "items": ref("Conflict")}),
						"400": badRunID,
						"404": notFound,
					},
				},
			},
			"/health": object{
				"get": object{
					"summary":     "Health check",
					"description": "Check that the API and its database are reachable",
					"responses": object{
						"200": jsonResponse("API is healthy", props(map[string]string{"status": "string", "timestamp": "string"})),
						"503": jsonResponse("Database unreachable", props(map[string]string{"status": "string", "timestamp": "string"})),
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content": object{
								"text/plain": object{"schema": object{"type": "string"}},
							},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"PlanRun": props(map[string]string{
					"id":               "string",
					"status":           "string",
					"objective":        "number",
					"horizon":          "integer",
					"site_count":       "integer",
					"variable_count":   "integer",
					"constraint_count": "integer",
					"conflict_count":   "integer",
					"artifact_dir":     "string",
					"started_at":       "string",
					"finished_at":      "string",
				}),
				"ComunaSummary": props(map[string]string{
					"comuna":         "string",
					"total_cost":     "number",
					"demand_served":  "number",
					"demand_total":   "number",
					"co2_benefit":    "number",
					"solar_output":   "number",
					"energy_savings": "number",
					"utilization":    "number",
					"coverage":       "number",
					"new_chargers":   "integer",
					"new_panels":     "integer",
				}),
				"SiteInstallation": props(map[string]string{
					"comuna":        "string",
					"site_id":       "string",
					"period":        "integer",
					"new_slow":      "integer",
					"new_fast":      "integer",
					"new_panels":    "integer",
					"total_slow":    "integer",
					"total_fast":    "integer",
					"total_panels":  "integer",
					"demand_served": "number",
				}),
				"Conflict": props(map[string]string{
					"id":          "string",
					"description": "string",
				}),
				"Error": props(map[string]string{
					"error":   "string",
					"message": "string",
					"code":    "integer",
				}),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}
