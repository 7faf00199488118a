package main

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mediconnect/mediconnect/internal/domain/doctor"
	"github.com/mediconnect/mediconnect/internal/domain/slot"
	"github.com/mediconnect/mediconnect/internal/domain/user"
	"github.com/mediconnect/mediconnect/internal/platform/auth"
	"github.com/mediconnect/mediconnect/internal/platform/db"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, migrationState(s), appliedAt(s))
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrationState(s db.MigrationStatus) string {
	switch {
	case s.Drifted:
		return "drifted"
	case s.Applied:
		return "applied"
	}
	return "pending"
}

func appliedAt(s db.MigrationStatus) string {
	if s.AppliedAt == nil {
		return ""
	}
	return s.AppliedAt.Format("2006-01-02 15:04:05")
}

var specialties = []string{
	"General Medicine",
	"Cardiology",
	"Dermatology",
	"Pediatrics",
	"Orthopedics",
	"Gynecology",
	"ENT",
	"Neurology",
}

// sessionTemplates are the weekly sessions handed out to seeded doctors.
var sessionTemplates = []struct {
	start, end string
	ctype      slot.ConsultationType
}{
	{"09:00", "13:00", slot.Physical},
	{"15:00", "18:00", slot.Both},
	{"19:00", "21:00", slot.Telemedicine},
}

// seedRules picks days and sessions for one doctor. Every rule is valid and
// no two share a start on the same day.
func seedRules(doctorID uuid.UUID) []*slot.Rule {
	days := gofakeit.Number(2, 4)
	first := gofakeit.Number(0, 6)
	week := []slot.DayOfWeek{slot.Saturday, slot.Sunday, slot.Monday, slot.Tuesday, slot.Wednesday, slot.Thursday, slot.Friday}

	rules := make([]*slot.Rule, 0, days)
	for i := 0; i < days; i++ {
		tpl := sessionTemplates[gofakeit.Number(0, len(sessionTemplates)-1)]
		rules = append(rules, &slot.Rule{
			DoctorID:         doctorID,
			DayOfWeek:        week[(first+i)%len(week)],
			StartTime:        tpl.start,
			EndTime:          tpl.end,
			ConsultationType: tpl.ctype,
			MaxPatients:      gofakeit.Number(5, 30),
			Active:           true,
		})
	}
	return rules
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate the database with sample doctors, patients and slot rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorCount, _ := cmd.Flags().GetInt("doctors")
			patientCount, _ := cmd.Flags().GetInt("patients")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, poolOptions(cfg))
			if err != nil {
				return err
			}
			defer pool.Close()

			users := user.NewRepoPG(pool, cfg.DBTimeout)
			doctors := doctor.NewRepoPG(pool, cfg.DBTimeout)
			rules := slot.NewRepoPG(pool, cfg.DBTimeout)
			tx := db.NewTransactor(pool, time.Minute)

			gofakeit.Seed(time.Now().UnixNano())
			var ruleCount int
			err = tx.WithinTx(ctx, func(ctx context.Context) error {
				for i := 0; i < doctorCount; i++ {
					u := &user.User{
						FullName: "Dr. " + gofakeit.Name(),
						Email:    fmt.Sprintf("doctor%d.%s", i+1, gofakeit.Email()),
						Phone:    gofakeit.Phone(),
						Role:     auth.RoleDoctor,
					}
					if err := users.Create(ctx, u); err != nil {
						return err
					}
					d := &doctor.Doctor{
						UserID:    u.ID,
						FullName:  u.FullName,
						Specialty: specialties[gofakeit.Number(0, len(specialties)-1)],
						Active:    true,
					}
					if err := doctors.Create(ctx, d); err != nil {
						return err
					}
					for _, r := range seedRules(d.ID) {
						if err := rules.Create(ctx, r); err != nil {
							return err
						}
						ruleCount++
					}
				}
				for i := 0; i < patientCount; i++ {
					u := &user.User{
						FullName: gofakeit.Name(),
						Email:    fmt.Sprintf("patient%d.%s", i+1, gofakeit.Email()),
						Phone:    gofakeit.Phone(),
						Role:     auth.RolePatient,
					}
					if err := users.Create(ctx, u); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}

			logger.Info().
				Int("doctors", doctorCount).
				Int("patients", patientCount).
				Int("slot_rules", ruleCount).
				Msg("seed complete")
			return nil
		},
	}
	cmd.Flags().Int("doctors", 10, "Number of doctors to create")
	cmd.Flags().Int("patients", 100, "Number of patients to create")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			userFlag, _ := cmd.Flags().GetString("user")
			roleFlag, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			uid, err := uuid.Parse(userFlag)
			if err != nil {
				return fmt.Errorf("--user must be a uuid: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := auth.IssueToken(jwtConfig(cfg), uid, auth.Role(roleFlag), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("user", "", "User id (uuid) placed in the token subject")
	cmd.Flags().String("role", string(auth.RolePatient), "patient, doctor or admin")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
