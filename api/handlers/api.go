package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tokenfight/tokenfight-api/api"
	"github.com/tokenfight/tokenfight-api/api/scheduler"
	"github.com/tokenfight/tokenfight-api/config"
	"github.com/tokenfight/tokenfight-api/databases"
	"github.com/tokenfight/tokenfight-api/models"
	"github.com/tokenfight/tokenfight-api/referrals"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Service   *referrals.Service
	Scheduler *scheduler.Scheduler
	Stats     *StatsHub
	dbHelper  databases.DatabaseHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	api.SetupGoGuardian()

	a.Service = &referrals.Service{
		Users:           databases.NewUserDatabase(a.dbHelper),
		Referrals:       databases.NewReferralDatabase(a.dbHelper),
		GenesisCapacity: a.Config.GenesisCapacity,
	}
	a.Stats = NewStatsHub(a.Service)

	u := User{Service: a.Service}
	ref := Referral{Service: a.Service}
	avatar := Avatar{}

	r := mux.NewRouter()
	r.Use(api.CORSMiddleware)
	r.Use(api.MetricsMiddleware)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	// action-dispatch endpoint, wire compatible with the original serverless function
	r.Handle("/api/referrals", http.HandlerFunc(ref.ActionsHandler)).Methods("POST", "OPTIONS")

	// live counters for the landing page
	r.HandleFunc("/ws/stats", a.Stats.ServeWS)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	apiCreate.Handle("/auth/token", api.AdminMiddleware(http.HandlerFunc(api.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", api.AdminMiddleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/user", api.PrivyMiddleware(http.HandlerFunc(u.UserUpsertHandler))).Methods("POST")
	apiCreate.Handle("/user/code/{referral_code}", http.HandlerFunc(u.UserByReferralCodeHandler)).Methods("GET")
	apiCreate.Handle("/user/{user_id}", http.HandlerFunc(u.UserHandler)).Methods("GET")
	apiCreate.Handle("/user/{user_id}/referrals", http.HandlerFunc(ref.UserReferralsHandler)).Methods("GET")
	apiCreate.Handle("/user/{user_id}/referrer", http.HandlerFunc(ref.UserReferrerHandler)).Methods("GET")
	apiCreate.Handle("/user/{user_id}/dummy-referral", api.AdminMiddleware(http.HandlerFunc(ref.AddDummyReferralHandler))).Methods("POST")
	apiCreate.Handle("/user/{user_id}/referral/{referred_id}", api.AdminMiddleware(http.HandlerFunc(ref.RemoveReferralHandler))).Methods("DELETE")

	apiCreate.Handle("/referral", api.PrivyMiddleware(http.HandlerFunc(ref.TrackReferralHandler))).Methods("POST")

	apiCreate.Handle("/genesis/count", http.HandlerFunc(u.GenesisCountHandler)).Methods("GET")
	apiCreate.Handle("/leaderboard", http.HandlerFunc(u.LeaderboardHandler)).Methods("GET")

	apiCreate.Handle("/generate-signature", api.PrivyMiddleware(http.HandlerFunc(avatar.GenerateSignatureHandler))).Methods("POST")

	apiCreate.Handle("/admin/reconcile", api.AdminMiddleware(http.HandlerFunc(ref.ReconcileHandler))).Methods("POST")
	apiCreate.Handle("/admin/metrics", api.AdminMiddleware(http.HandlerFunc(metricsHandler))).Methods("GET")

	// preflight catchall so the CORS middleware answers OPTIONS on every route
	r.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("tokenfight-api has connected to the database")

	// initialize api router
	a.initializeRoutes()

	// background jobs and the live stats feed
	a.Scheduler = scheduler.New(a.Service, databases.NewJobLockDatabase(a.dbHelper))
	a.Scheduler.Start()
	go a.Stats.Run()

	return nil

}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(api.GetMetrics().Snapshot())
}
