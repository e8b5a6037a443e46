// Package config loads the allin client configuration.
//
// Configuration is read from config.yaml in a single directory. The default
// directory is ~/.config/allin; commands accept --config to point elsewhere.
// Missing files fall back to defaults. After the file, a .env file in the
// configuration directory and one in the working directory are loaded into
// the environment (existing variables win), and the ALLIN_* variables are
// applied on top.
//
// # Configuration Structure
//
//	api:
//	  baseURL: "https://api.allin.example/api/"  # API root (env: ALLIN_API_URL)
//	  timeout: 10s
//	storage:
//	  backend: file        # file, redis or memory (env: ALLIN_STORAGE_BACKEND)
//	  dir: ""              # default: <config dir>/session (env: ALLIN_STORAGE_DIR)
//	  cookieFile: ""       # default: <storage dir>/cookies.txt
//	  cookieDomain: ""
//	  redis:
//	    addr: "localhost:6379"  # env: ALLIN_REDIS_ADDR
//	    password: ""            # env: ALLIN_REDIS_PASSWORD
//	    db: 0
//	    prefix: "allin:"
//	session:
//	  readinessTimeout: 3s
//	  permissionTTL: 2h
//	  refresh:
//	    policy: interval   # interval or lookahead (env: ALLIN_REFRESH_POLICY)
//	    interval: 6h
//	    leeway: 5m
//	routes:
//	  signIn: /login
//	  register: /register
//	  onboarding: /onboarding
//	  home: /
//	  public: [/about]
//	  guestOnly: []
//	logging:
//	  level: info          # debug, info, warn, error (env: ALLIN_LOG_LEVEL)
//	  format: text         # text or json
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultConfigDir())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.BaseURL)
package config
