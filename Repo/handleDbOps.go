package Repo

import (
	"context"
	"fmt"
	"os"

	"discord-utility-bot/Models"

	"github.com/jackc/pgx/v5/pgxpool"
)

type RoleGroup = Models.RoleGroup
type GuildRoleConfig = Models.GuildRoleConfig

func InitDbPool(dbPool **pgxpool.Pool) error {
	databaseUrl := os.Getenv("DATABASE_URL")
	var dbConnectionError error
	*dbPool, dbConnectionError = pgxpool.New(context.Background(), databaseUrl)
	if dbConnectionError != nil {
		return dbConnectionError
	}
	return nil
}

// GetGuildRoleConfigs loads every guild's attendance role groupings.
// Position keeps the configured order: groupings are matched and
// rendered first to last.
func GetGuildRoleConfigs(dbPool *pgxpool.Pool) (GuildRoleConfig, error) {
	if dbPool == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}

	query := `
		SELECT guild_id, role_id, role_label
		FROM attend_roles
		ORDER BY guild_id, position`

	rows, dbQueryError := dbPool.Query(context.Background(), query)
	if dbQueryError != nil {
		return nil, dbQueryError
	}
	defer rows.Close()

	configs := GuildRoleConfig{}
	for rows.Next() {
		var guildId string
		var roleGroup RoleGroup
		if err := rows.Scan(&guildId, &roleGroup.ID, &roleGroup.Label); err != nil {
			return nil, err
		}
		configs[guildId] = append(configs[guildId], roleGroup)
	}

	return configs, rows.Err()
}
