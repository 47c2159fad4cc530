package redis

import (
	"fmt"
	"strings"

	rd "github.com/redis/go-redis/v9"
)

// Config selects the redis deployment. One address connects to a single
// node, several to a cluster.
type Config struct {
	Addrs     []string
	Namespace string
	Password  string
	DB        int
	PoolSize  int
}

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func NewClient(conf Config) rd.UniversalClient {
	return rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		DB:       conf.DB,
		PoolSize: conf.PoolSize,
	})
}

func newBaseDao(client rd.UniversalClient, namespace string) *baseDao {
	return &baseDao{
		redisClient: client,
		namespace:   namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}
