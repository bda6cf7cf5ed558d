package services

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/focusgrove/focus_api/model"
)

// ArchiveService mirrors finished session records into a long-term Postgres
// archive and prunes the local cache down to the retention window. Records
// are destroyed only here, by policy, never by user flows. Optional: without
// ARCHIVE_DATABASE_URL the local cache simply keeps everything.
type ArchiveService struct {
	context.DefaultService
	db *gorm.DB

	sqlSvc *SqliteService

	database      string
	retentionDays int
	userID        string

	closed chan struct{}
}

const ARCHIVE_SVC = "archive_svc"

const archiveSweepInterval = 6 * time.Hour

func (ds ArchiveService) Id() string {
	return ARCHIVE_SVC
}

func (ds ArchiveService) Db() *gorm.DB {
	return ds.db
}

func (ds *ArchiveService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("ARCHIVE_DATABASE_URL")
	ds.userID = os.Getenv("FOCUS_USER_ID")
	ds.closed = make(chan struct{})

	ds.retentionDays = 365
	if raw := os.Getenv("ARCHIVE_RETENTION_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			ds.retentionDays = v
		}
	}

	return ds.DefaultService.Configure(ctx)
}

func (ds *ArchiveService) Start() error {
	ds.sqlSvc = ds.Service(SQLITE_SVC).(*SqliteService)

	if ds.database == "" {
		log.Info("Archive database not configured, local history retained indefinitely")
		return nil
	}

	db, err := gorm.Open(postgres.Open(ds.database), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return fmt.Errorf("failed to connect archive database: %v", err)
	}
	ds.db = db

	if err := ds.db.AutoMigrate(&model.SessionRecord{}, &model.SessionExtension{}); err != nil {
		return err
	}

	go ds.sweepLoop()

	log.Info("Session archive connected")
	return nil
}

func (ds *ArchiveService) Shutdown() {
	close(ds.closed)
}

func (ds *ArchiveService) sweepLoop() {
	ticker := time.NewTicker(archiveSweepInterval)
	defer ticker.Stop()

	ds.sweep()
	for {
		select {
		case <-ticker.C:
			ds.sweep()
		case <-ds.closed:
			return
		}
	}
}

// sweep copies everything outside the retention window into the archive and
// deletes it locally only after the archive write succeeded.
func (ds *ArchiveService) sweep() {
	cutoff := time.Now().AddDate(0, 0, -ds.retentionDays)

	var recs []model.SessionRecord
	err := ds.sqlSvc.Db().Where("user_id = ? AND completed_at < ?", ds.userID, cutoff).Find(&recs).Error
	if err != nil {
		log.WithError(err).Error("Archive sweep read failed")
		return
	}
	if len(recs) == 0 {
		return
	}

	if err := ds.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&recs).Error; err != nil {
		log.WithError(err).Error("Archive write failed, keeping local records")
		return
	}

	if err := ds.sqlSvc.Db().Where("user_id = ? AND completed_at < ?", ds.userID, cutoff).
		Delete(&model.SessionRecord{}).Error; err != nil {
		log.WithError(err).Error("Local prune failed")
		return
	}

	log.WithField("records", len(recs)).Info("Session records archived")
}
