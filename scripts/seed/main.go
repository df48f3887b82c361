package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stayledger/internal/app"
	"github.com/odyssey-erp/stayledger/internal/bookings"
	"github.com/odyssey-erp/stayledger/internal/platform/db"
	"github.com/odyssey-erp/stayledger/migrations"
)

type seedProperty struct {
	name     string
	timezone string
	rooms    []string
}

type seedStay struct {
	room    string
	records []bookings.RecordInput
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	if err := db.Migrate(cfg.PGDSN, migrations.FS, logger); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fmt.Println("→ Seeding ledger and properties...")
	rooms, err := seedLedger(ctx, pool, "Demo Rentals", []seedProperty{
		{name: "Venice Loft", timezone: "America/Los_Angeles", rooms: []string{"Loft"}},
		{name: "Shibuya Studio", timezone: "Asia/Tokyo", rooms: []string{"101", "102"}},
		{name: "Lakeside Cabin", rooms: []string{"Cabin"}},
	})
	if err != nil {
		log.Fatalf("seed ledger: %v", err)
	}

	services, err := app.NewServices(cfg, pool, nil, nil, logger)
	if err != nil {
		log.Fatalf("build services: %v", err)
	}

	fmt.Println("→ Seeding bookings and records...")
	stays := []seedStay{
		{room: "Loft", records: []bookings.RecordInput{
			{Type: bookings.RecordNew, RangeStart: day(2025, 6, 15), RangeEnd: dayPtr(2025, 8, 15), GuestDeltaCents: 620000, PayoutDeltaCents: 550000, Memo: "summer stay"},
			{Type: bookings.RecordCancel, RangeStart: day(2025, 8, 1), RangeEnd: dayPtr(2025, 8, 15), GuestDeltaCents: -150000, PayoutDeltaCents: -130000, Memo: "guest left early"},
		}},
		{room: "101", records: []bookings.RecordInput{
			{Type: bookings.RecordNew, RangeStart: day(2025, 3, 30), RangeEnd: dayPtr(2025, 4, 3), GuestDeltaCents: 90000, PayoutDeltaCents: 80000},
			{Type: bookings.RecordExtend, RangeStart: day(2025, 4, 3), RangeEnd: dayPtr(2025, 4, 5), GuestDeltaCents: 40000, PayoutDeltaCents: 35000},
		}},
		{room: "Cabin", records: []bookings.RecordInput{
			{Type: bookings.RecordNew, RangeStart: day(2025, 12, 29), RangeEnd: dayPtr(2026, 1, 2), GuestDeltaCents: 70000, PayoutDeltaCents: 61000},
		}},
	}
	for _, stay := range stays {
		if err := seedStayRecords(ctx, pool, services.Bookings, rooms[stay.room], stay.records); err != nil {
			log.Fatalf("seed stay in %s: %v", stay.room, err)
		}
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedLedger(ctx context.Context, pool *pgxpool.Pool, name string, props []seedProperty) (map[string]uuid.UUID, error) {
	rooms := map[string]uuid.UUID{}
	err := db.WithTx(ctx, pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		ledgerID := uuid.New()
		if _, err := tx.Exec(ctx, `INSERT INTO ledgers (id, name) VALUES ($1, $2)`, ledgerID, name); err != nil {
			return err
		}
		for _, p := range props {
			propertyID := uuid.New()
			var tz *string
			if p.timezone != "" {
				tz = &p.timezone
			}
			if _, err := tx.Exec(ctx, `INSERT INTO properties (id, ledger_id, name, timezone) VALUES ($1, $2, $3, $4)`, propertyID, ledgerID, p.name, tz); err != nil {
				return err
			}
			for _, label := range p.rooms {
				roomID := uuid.New()
				if _, err := tx.Exec(ctx, `INSERT INTO rooms (id, property_id, label) VALUES ($1, $2, $3)`, roomID, propertyID, label); err != nil {
					return err
				}
				rooms[label] = roomID
			}
		}
		return nil
	})
	return rooms, err
}

func seedStayRecords(ctx context.Context, pool *pgxpool.Pool, svc *bookings.Service, roomID uuid.UUID, records []bookings.RecordInput) error {
	bookingID := uuid.New()
	first := records[0]
	if _, err := pool.Exec(ctx, `INSERT INTO bookings (id, room_id, check_in, check_out, channel) VALUES ($1, $2, $3, $3, 'seed')`, bookingID, roomID, first.RangeStart); err != nil {
		return err
	}
	for _, rec := range records {
		rec.BookingID = bookingID
		rec.Actor = "seed"
		result, err := svc.AppendRecord(ctx, rec)
		if err != nil {
			return err
		}
		fmt.Printf("  %s %s posted %d line(s)\n", rec.Type, result.Record.ID, result.Lines)
	}
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}
