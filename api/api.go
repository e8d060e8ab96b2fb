/*
Copyright 2024 Kreatum Authors.

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
	"github.com/gin-gonic/gin"

	"github.com/kreatum/kreatum"
	"github.com/kreatum/kreatum/api/middleware"
	"github.com/kreatum/kreatum/config"
)

type Api struct {
	kreatum *kreatum.Kreatum
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/users", a.CreateUser)
	router.GET("/users/:id", a.GetUser)
	router.GET("/users/:id/transactions", a.GetTransactions)
	router.GET("/users/:id/referrals", a.GetReferralStats)

	router.POST("/jobs", a.CreateJob)
	router.GET("/jobs/:id", a.GetJob)
	router.GET("/jobs", a.GetJobs)
	router.POST("/jobs/:id/cancel", a.CancelJob)

	router.POST("/payments", a.CreatePayment)

	router.POST("/referrals", a.ApplyReferral)
	router.POST("/bonuses/review", a.GrantReviewBonus)
	router.POST("/bonuses/channel", a.GrantChannelBonus)

	router.POST("/models", a.CreateModel)

	// webhook endpoints carry their own authentication
	router.POST("/webhooks/provider", a.ProviderWebhook)
	router.POST("/webhooks/payments", a.PaymentWebhook)
	return a.router
}

func NewAPI(k *kreatum.Kreatum) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{kreatum: k, router: r}
}
