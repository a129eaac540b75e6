/*
Copyright 2026 ReelScript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/reelscript/reelscript"
	"github.com/reelscript/reelscript/api/middleware"
	"github.com/reelscript/reelscript/config"
	"github.com/reelscript/reelscript/internal/apierror"
)

type Api struct {
	reelscript *reelscript.ReelScript
	router     *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/batches", a.CreateBatch)
	router.GET("/batches/:id", a.GetBatch)

	router.POST("/scripts/:id/regenerate", a.RegenerateScript)
	router.GET("/scripts/:id", a.GetScript)
	router.GET("/scripts/:id/versions", a.GetScriptVersions)

	router.GET("/credits/:user_id", a.GetBalances)
	router.GET("/credits/:user_id/check", a.CheckCredits)
	router.GET("/credits/:user_id/transactions", a.GetCreditTransactions)
	router.POST("/credits/:user_id/grants", a.GrantCredits)
	router.POST("/credits/:user_id/debits", a.ConsumeCredits)

	router.POST("/billing/events", a.ApplyBillingEvent)
	return a.router
}

func NewAPI(r *reelscript.ReelScript) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())
	if conf.EnableTracing {
		router.Use(otelgin.Middleware(conf.ProjectName))
	}
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(middleware.SecretKeyAuthMiddleware())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{reelscript: r, router: router}
}

// respondError writes err with the status its error code maps to. Internal
// failures are logged and their details are not echoed to the client.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}

	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
