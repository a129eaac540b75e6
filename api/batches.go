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
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/reelscript/reelscript/api/model"
)

// CreateBatch debits the batch and queues its generation. The response is
// the pending batch; clients poll GetBatch for progress.
func (a Api) CreateBatch(c *gin.Context) {
	var newBatch model2.CreateBatch
	if err := c.ShouldBindJSON(&newBatch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	err := newBatch.ValidateCreateBatch()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.reelscript.CreateBatch(c.Request.Context(), newBatch.ToBatchRequest())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

// GetBatch returns the batch with its scripts and, while the queue still
// holds it, the state of its generation job.
func (a Api) GetBatch(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.reelscript.GetBatchView(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
